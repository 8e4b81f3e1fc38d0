package orchestrator

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/discussion/models"
	"github.com/colloquy/colloquy/internal/events"
	"github.com/colloquy/colloquy/internal/events/bus"
)

// eventSource identifies this service as the producer on the bus.
const eventSource = "discussion-orchestrator"

// Broadcaster relays domain events to the sockets subscribed to a discussion.
type Broadcaster interface {
	BroadcastToDiscussion(discussionID string, event *models.DiscussionEvent)
}

// emit publishes events to the bus and hands them to the fan-out layer.
// Emission is best-effort: the state transition already committed, so a
// publish failure is logged with the event id for reconciliation and never
// rolls anything back.
func (o *Orchestrator) emit(ctx context.Context, domainEvents ...*models.DiscussionEvent) {
	o.mu.Lock()
	broadcaster := o.broadcaster
	o.mu.Unlock()

	for _, ev := range domainEvents {
		busEvent := bus.NewEvent(string(ev.Type), eventSource, eventToMap(ev))
		busEvent.ID = ev.ID
		if err := o.bus.Publish(ctx, events.DiscussionEvents, busEvent); err != nil {
			o.logger.Error("Failed to publish discussion event",
				zap.String("event_id", ev.ID),
				zap.String("event_type", string(ev.Type)),
				zap.String("discussion_id", ev.DiscussionID),
				zap.Error(err))
		}
		if broadcaster != nil {
			broadcaster.BroadcastToDiscussion(ev.DiscussionID, ev)
		}
	}
}

// eventToMap flattens a domain event into the bus payload shape.
func eventToMap(ev *models.DiscussionEvent) map[string]interface{} {
	raw, err := json.Marshal(ev)
	if err != nil {
		return map[string]interface{}{"id": ev.ID, "type": string(ev.Type), "discussion_id": ev.DiscussionID}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]interface{}{"id": ev.ID, "type": string(ev.Type), "discussion_id": ev.DiscussionID}
	}
	return m
}

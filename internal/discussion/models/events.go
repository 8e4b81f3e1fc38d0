package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a discussion event variant
type EventType string

const (
	EventStatusChanged     EventType = "status_changed"
	EventTurnChanged       EventType = "turn_changed"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventMessageSent       EventType = "message_sent"
	EventReactionAdded     EventType = "reaction_added"
)

// EventMetadata carries provenance for a discussion event
type EventMetadata struct {
	Source string `json:"source"`
}

// DiscussionEvent describes a completed state transition in a discussion.
// Data holds exactly one variant payload matching Type.
type DiscussionEvent struct {
	ID           string        `json:"id"`
	Type         EventType     `json:"type"`
	DiscussionID string        `json:"discussion_id"`
	Data         interface{}   `json:"data"`
	Timestamp    time.Time     `json:"timestamp"`
	Metadata     EventMetadata `json:"metadata"`
}

// StatusChangedData is the payload for EventStatusChanged
type StatusChangedData struct {
	PreviousStatus Status `json:"previous_status"`
	NewStatus      Status `json:"new_status"`
	ActorID        string `json:"actor_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// TurnChangedData is the payload for EventTurnChanged
type TurnChangedData struct {
	PreviousParticipantID string  `json:"previous_participant_id,omitempty"`
	ParticipantID         string  `json:"participant_id,omitempty"`
	TurnNumber            int     `json:"turn_number"`
	DurationSeconds       float64 `json:"duration_seconds"`
}

// ParticipantJoinedData is the payload for EventParticipantJoined
type ParticipantJoinedData struct {
	Participant *Participant `json:"participant"`
}

// ParticipantLeftData is the payload for EventParticipantLeft
type ParticipantLeftData struct {
	ParticipantID string `json:"participant_id"`
}

// MessageSentData is the payload for EventMessageSent
type MessageSentData struct {
	Message *Message `json:"message"`
}

// ReactionAddedData is the payload for EventReactionAdded
type ReactionAddedData struct {
	Reaction *Reaction `json:"reaction"`
}

// NewEvent creates a discussion event with a unique id and current timestamp.
func NewEvent(eventType EventType, discussionID, source string, data interface{}) *DiscussionEvent {
	return &DiscussionEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		DiscussionID: discussionID,
		Data:         data,
		Timestamp:    time.Now().UTC(),
		Metadata:     EventMetadata{Source: source},
	}
}

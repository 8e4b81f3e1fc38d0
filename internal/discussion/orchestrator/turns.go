package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/discussion/models"
)

// TurnRequestStatus is the outcome of a RequestTurn call.
type TurnRequestStatus string

const (
	TurnRequestActive   TurnRequestStatus = "active"
	TurnRequestQueued   TurnRequestStatus = "queued"
	TurnRequestRejected TurnRequestStatus = "rejected"
)

// TurnRequestResult carries the outcome of a turn request.
type TurnRequestResult struct {
	Status        TurnRequestStatus `json:"status"`
	ParticipantID string            `json:"participant_id"`
	TurnNumber    int               `json:"turn_number"`
}

// SendMessage admits a message under the discussion's turn strategy,
// persists it and emits MessageSent. Sending does not end the turn, but a
// configured per-turn message budget rejects sends beyond it.
func (o *Orchestrator) SendMessage(ctx context.Context, discussionID, participantID, content string, messageType models.MessageType) (*models.Message, error) {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusActive {
		return nil, apperrors.InvalidState("discussion is not active")
	}

	p := d.Participant(participantID)
	if p == nil {
		return nil, apperrors.NotFound("participant", participantID)
	}
	if !p.IsActive {
		return nil, apperrors.PolicyViolation("participant is not active in this discussion")
	}
	if !p.HasPermission(models.CanSendMessages) {
		return nil, apperrors.PolicyViolation("participant is not permitted to send messages")
	}
	if content == "" {
		return nil, apperrors.ValidationError("content", "must not be empty")
	}
	if len(content) > models.MaxMessageContentBytes {
		return nil, apperrors.ValidationError("content", "exceeds maximum message size")
	}
	if !d.TurnStrategy.IsFreeForm() {
		if d.CurrentSpeakerID() != participantID {
			return nil, apperrors.PolicyViolation("it is not this participant's turn")
		}
		if limit := d.Settings.Strategy.MaxMessagesPerTurn; limit > 0 && d.State.CurrentTurn.MessageCount >= limit {
			return nil, apperrors.PolicyViolation("turn message limit reached")
		}
	}
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:            uuid.New().String(),
		DiscussionID:  discussionID,
		ParticipantID: participantID,
		Content:       content,
		Type:          messageType,
		CreatedAt:     now,
	}
	if err := o.repo.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	p.MessageCount++
	p.LastActiveAt = now
	if err := o.repo.UpdateParticipant(ctx, p); err != nil {
		o.logger.Warn("Failed to update participant activity",
			zap.String("participant_id", participantID),
			zap.Error(err))
	}

	d.State.MessageCount++
	if !d.TurnStrategy.IsFreeForm() {
		d.State.CurrentTurn.MessageCount++
	}
	d.State.LastActivity = now
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, models.NewEvent(models.EventMessageSent, discussionID, participantID,
		models.MessageSentData{Message: msg}))
	return msg, nil
}

// AdvanceTurn moves the discussion to the next speaker. Timer expiry calls
// this with actorID = "system"; stale timer generations are rejected before
// reaching here.
func (o *Orchestrator) AdvanceTurn(ctx context.Context, discussionID, actorID string) (*models.TurnResolution, error) {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusActive {
		return nil, apperrors.InvalidState("discussion is not active")
	}
	if d.TurnStrategy.IsFreeForm() {
		return nil, apperrors.InvalidState("free-form discussions have no turns")
	}
	return o.advanceAndCommitLocked(ctx, d, actorID)
}

// EndTurn lets the current speaker yield; the turn advances immediately.
func (o *Orchestrator) EndTurn(ctx context.Context, discussionID, participantID string) (*models.TurnResolution, error) {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusActive {
		return nil, apperrors.InvalidState("discussion is not active")
	}
	if d.CurrentSpeakerID() != participantID {
		return nil, apperrors.PolicyViolation("it is not this participant's turn")
	}
	d.Metadata[models.MetaTurnCompleted] = true
	return o.advanceAndCommitLocked(ctx, d, participantID)
}

// RequestTurn reports whether the participant holds the turn, may be queued
// for one, or is rejected by the strategy.
func (o *Orchestrator) RequestTurn(ctx context.Context, discussionID, participantID string) (*TurnRequestResult, error) {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusActive {
		return nil, apperrors.InvalidState("discussion is not active")
	}
	p := d.Participant(participantID)
	if p == nil {
		return nil, apperrors.NotFound("participant", participantID)
	}
	if !p.IsActive {
		return nil, apperrors.PolicyViolation("participant is not active in this discussion")
	}
	if !p.HasPermission(models.CanRequestTurn) {
		return nil, apperrors.PolicyViolation("participant is not permitted to request turns")
	}

	result := &TurnRequestResult{
		ParticipantID: participantID,
		TurnNumber:    d.State.CurrentTurn.TurnNumber,
	}
	switch {
	case d.CurrentSpeakerID() == participantID:
		result.Status = TurnRequestActive
	case o.strategies.Get(d.TurnStrategy).CanParticipantTakeTurn(p, d, d.Settings.Strategy):
		result.Status = TurnRequestQueued
	default:
		result.Status = TurnRequestRejected
	}
	return result, nil
}

// AddReaction records an emoji reaction on a message and emits ReactionAdded.
func (o *Orchestrator) AddReaction(ctx context.Context, discussionID, messageID, participantID, emoji string) (*models.Reaction, error) {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	p := d.Participant(participantID)
	if p == nil {
		return nil, apperrors.NotFound("participant", participantID)
	}
	if !p.IsActive {
		return nil, apperrors.PolicyViolation("participant is not active in this discussion")
	}
	if !p.HasPermission(models.CanAddReactions) {
		return nil, apperrors.PolicyViolation("participant is not permitted to add reactions")
	}
	if emoji == "" {
		return nil, apperrors.ValidationError("emoji", "must not be empty")
	}

	msg, err := o.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.DiscussionID != discussionID {
		return nil, apperrors.NotFound("message", messageID)
	}

	reaction := &models.Reaction{
		ID:            uuid.New().String(),
		DiscussionID:  discussionID,
		MessageID:     messageID,
		ParticipantID: participantID,
		Emoji:         emoji,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.repo.CreateReaction(ctx, reaction); err != nil {
		return nil, err
	}
	d.State.LastActivity = reaction.CreatedAt
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, models.NewEvent(models.EventReactionAdded, discussionID, participantID,
		models.ReactionAddedData{Reaction: reaction}))
	return reaction, nil
}

// SelectNextParticipant records a moderator's choice for the next speaker.
// Selected participants stay on the approved list across pause and resume.
func (o *Orchestrator) SelectNextParticipant(ctx context.Context, discussionID, moderatorID, participantID string) error {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return err
	}
	if d.TurnStrategy != models.StrategyModerated {
		return apperrors.InvalidState("discussion is not moderated")
	}
	if err := o.requireModeratorLocked(d, moderatorID); err != nil {
		return err
	}
	target := d.Participant(participantID)
	if target == nil {
		return apperrors.NotFound("participant", participantID)
	}
	if !target.IsActive {
		return apperrors.PolicyViolation("selected participant is not active")
	}

	d.Metadata[models.MetaPendingModeratorSelection] = participantID
	d.Metadata[models.MetaApprovedParticipants] = appendUnique(
		metaStrings(d, models.MetaApprovedParticipants), participantID)
	return o.persistLocked(ctx, d)
}

// ModeratorAdvanceTurn records the moderator's explicit advance and moves the
// turn forward.
func (o *Orchestrator) ModeratorAdvanceTurn(ctx context.Context, discussionID, moderatorID string) (*models.TurnResolution, error) {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusActive {
		return nil, apperrors.InvalidState("discussion is not active")
	}
	if d.TurnStrategy != models.StrategyModerated {
		return nil, apperrors.InvalidState("discussion is not moderated")
	}
	if err := o.requireModeratorLocked(d, moderatorID); err != nil {
		return nil, err
	}
	d.Metadata[models.MetaModeratorAdvance] = true
	return o.advanceAndCommitLocked(ctx, d, moderatorID)
}

// resolveTurnLocked computes the next turn, mutates the discussion snapshot
// and returns the resolution plus the TurnChanged event. One-shot turn
// metadata (completion flags, pending selection) is consumed here. The caller
// persists, emits and schedules.
func (o *Orchestrator) resolveTurnLocked(d *models.Discussion, actorID string) (*models.TurnResolution, *models.DiscussionEvent, error) {
	strat := o.strategies.Get(d.TurnStrategy)
	cfg := d.Settings.Strategy
	active := d.ActiveParticipants()
	previousSpeaker := d.CurrentSpeakerID()

	next := strat.NextParticipant(d, active, cfg)
	resolution := &models.TurnResolution{
		TurnNumber: d.State.CurrentTurn.TurnNumber + 1,
	}
	if next != nil {
		// The resolution outlives the lock; never alias cached participants.
		resolution.NextParticipant = next.Clone()
	}
	resolution.EstimatedSeconds = strat.EstimateTurnDuration(next, d, cfg)

	now := time.Now().UTC()
	d.State.CurrentTurn.TurnNumber = resolution.TurnNumber
	d.State.CurrentTurn.StartedAt = &now
	d.State.CurrentTurn.MessageCount = 0
	if next != nil {
		id := next.ID
		end := now.Add(resolution.EstimatedDuration())
		d.State.CurrentTurn.ParticipantID = &id
		d.State.CurrentTurn.ExpectedEndAt = &end
	} else {
		d.State.CurrentTurn.ParticipantID = nil
		d.State.CurrentTurn.ExpectedEndAt = nil
	}
	d.State.LastActivity = now

	delete(d.Metadata, models.MetaTurnCompleted)
	delete(d.Metadata, models.MetaModeratorAdvance)
	delete(d.Metadata, models.MetaPendingModeratorSelection)

	nextID := ""
	if next != nil {
		nextID = next.ID
	}
	event := models.NewEvent(models.EventTurnChanged, d.ID, actorID, models.TurnChangedData{
		PreviousParticipantID: previousSpeaker,
		ParticipantID:         nextID,
		TurnNumber:            resolution.TurnNumber,
		DurationSeconds:       resolution.EstimatedSeconds,
	})
	return resolution, event, nil
}

// advanceAndCommitLocked resolves the next turn, persists it, emits
// TurnChanged and re-arms the timer. Caller must hold the per-discussion lock.
func (o *Orchestrator) advanceAndCommitLocked(ctx context.Context, d *models.Discussion, actorID string) (*models.TurnResolution, error) {
	resolution, event, err := o.resolveTurnLocked(d, actorID)
	if err != nil {
		return nil, err
	}
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, event)
	o.scheduleTurnLocked(d, resolution)

	o.logger.Debug("Turn advanced",
		zap.String("discussion_id", d.ID),
		zap.Int("turn_number", resolution.TurnNumber),
		zap.String("actor_id", actorID))
	return resolution, nil
}

// scheduleTurnLocked arms the turn timer for the resolution just committed.
func (o *Orchestrator) scheduleTurnLocked(d *models.Discussion, resolution *models.TurnResolution) {
	if d.Status != models.StatusActive || d.TurnStrategy.IsFreeForm() || resolution.NextParticipant == nil {
		o.timers.Cancel(d.ID)
		return
	}
	o.timers.Schedule(d.ID, resolution.TurnNumber, resolution.EstimatedDuration(), o.handleTurnExpiry)
}

// requireModeratorLocked verifies the actor holds moderation rights on the
// discussion.
func (o *Orchestrator) requireModeratorLocked(d *models.Discussion, actorID string) error {
	p := d.Participant(actorID)
	if p == nil {
		return apperrors.NotFound("participant", actorID)
	}
	if p.Role != models.RoleModerator && !p.HasPermission(models.CanModerate) {
		return apperrors.PolicyViolation("moderator role required")
	}
	return nil
}

// metaStrings reads a string list from discussion metadata, accepting both
// []string and the []interface{} shape produced by JSON round-trips.
func metaStrings(d *models.Discussion, key string) []string {
	if d.Metadata == nil {
		return nil
	}
	switch v := d.Metadata[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

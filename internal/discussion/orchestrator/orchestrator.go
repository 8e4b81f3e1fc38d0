// Package orchestrator owns the authoritative runtime state of active
// discussions. All mutations for one discussion are serialized behind a
// per-discussion lock; the repository remains the source of truth on restart.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/common/config"
	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
	"github.com/colloquy/colloquy/internal/discussion/repository"
	"github.com/colloquy/colloquy/internal/discussion/strategy"
	"github.com/colloquy/colloquy/internal/events/bus"
)

// ActorSystem is the actor id recorded on timer-driven operations.
const ActorSystem = "system"

// analysisInvalidator is implemented by strategies that cache per-discussion
// analysis and need to be told when membership or topic changes.
type analysisInvalidator interface {
	Invalidate(discussionID string)
}

// Orchestrator coordinates discussion lifecycle, turn advancement, message
// admission and event emission.
type Orchestrator struct {
	repo       repository.Repository
	strategies *strategy.Engine
	bus        bus.EventBus
	cfg        *config.Config
	logger     *logger.Logger

	timers *turnScheduler

	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	active      map[string]*models.Discussion
	broadcaster Broadcaster

	subs []bus.Subscription
}

// New creates an orchestrator. Call Start to rebuild the active-discussion
// cache and attach bus subscriptions; call Shutdown to release timers.
func New(repo repository.Repository, engine *strategy.Engine, eventBus bus.EventBus, cfg *config.Config, log *logger.Logger) *Orchestrator {
	o := &Orchestrator{
		repo:       repo,
		strategies: engine,
		bus:        eventBus,
		cfg:        cfg,
		logger:     log.WithFields(zap.String("component", "orchestrator")),
		locks:      make(map[string]*sync.Mutex),
		active:     make(map[string]*models.Discussion),
	}
	o.timers = newTurnScheduler(o.logger)
	return o
}

// SetBroadcaster attaches the fan-out layer. Events are broadcast best-effort;
// a nil broadcaster is allowed (headless mode, tests).
func (o *Orchestrator) SetBroadcaster(b Broadcaster) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcaster = b
}

// Start rebuilds the in-memory cache from the repository, re-arms turn timers
// for active discussions and attaches ingest subscriptions.
func (o *Orchestrator) Start(ctx context.Context) error {
	discussions, err := o.repo.ListActiveDiscussions(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to load active discussions")
	}

	for _, d := range discussions {
		o.mu.Lock()
		o.active[d.ID] = d
		o.mu.Unlock()

		if d.Status == models.StatusActive && !d.TurnStrategy.IsFreeForm() && d.State.CurrentTurn.ExpectedEndAt != nil {
			remaining := time.Until(*d.State.CurrentTurn.ExpectedEndAt)
			o.timers.Schedule(d.ID, d.State.CurrentTurn.TurnNumber, remaining, o.handleTurnExpiry)
		}
	}
	o.logger.Info("Restored active discussions", zap.Int("count", len(discussions)))

	if err := o.startIngest(); err != nil {
		return err
	}
	return o.startCommandServer()
}

// Shutdown cancels all timers and detaches bus subscriptions.
func (o *Orchestrator) Shutdown() {
	o.timers.CancelAll()
	for _, sub := range o.subs {
		_ = sub.Unsubscribe()
	}
	o.subs = nil
	o.logger.Info("Orchestrator stopped")
}

// CreateDiscussionRequest carries the fields accepted at creation.
type CreateDiscussionRequest struct {
	Title        string                 `json:"title"`
	Topic        string                 `json:"topic,omitempty"`
	TurnStrategy models.StrategyType    `json:"turn_strategy"`
	Settings     *models.Settings       `json:"settings,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// CreateDiscussion validates the strategy configuration and persists a new
// Draft discussion. Draft discussions are not cached until started.
func (o *Orchestrator) CreateDiscussion(ctx context.Context, req CreateDiscussionRequest, creatorID string) (*models.Discussion, error) {
	if req.Title == "" {
		return nil, apperrors.ValidationError("title", "must not be empty")
	}
	strategyType := req.TurnStrategy
	if strategyType == "" {
		strategyType = models.StrategyRoundRobin
	}

	settings := models.Settings{
		MaxParticipants:    o.cfg.Discussion.MaxParticipants,
		TurnTimeoutSeconds: o.cfg.Discussion.DefaultTurnTimeout,
		Strategy:           strategy.PresetFor(strategyType),
	}
	if req.Settings != nil {
		if req.Settings.MaxParticipants > 0 {
			settings.MaxParticipants = req.Settings.MaxParticipants
		}
		if req.Settings.TurnTimeoutSeconds > 0 {
			settings.TurnTimeoutSeconds = req.Settings.TurnTimeoutSeconds
		}
		if req.Settings.Strategy != (models.StrategyConfig{}) {
			settings.Strategy = req.Settings.Strategy
		}
	}
	if err := strategy.ValidateConfig(strategyType, settings.Strategy); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	metadata := req.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	d := &models.Discussion{
		ID:           uuid.New().String(),
		Title:        req.Title,
		Topic:        req.Topic,
		Status:       models.StatusDraft,
		TurnStrategy: strategyType,
		Settings:     settings,
		State: models.State{
			Phase:        models.PhaseSetup,
			LastActivity: now,
		},
		Metadata:  metadata,
		CreatedBy: creatorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.CreateDiscussion(ctx, d); err != nil {
		return nil, err
	}
	o.logger.Info("Discussion created",
		zap.String("discussion_id", d.ID),
		zap.String("strategy", string(strategyType)))
	return d, nil
}

// GetDiscussion returns a snapshot of the cached discussion when active,
// otherwise reads through to the repository. The snapshot is taken under the
// per-discussion lock; cached state is never handed to unlocked readers.
func (o *Orchestrator) GetDiscussion(ctx context.Context, id string) (*models.Discussion, error) {
	unlock := o.lockDiscussion(id)
	defer unlock()

	d, err := o.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// ListDiscussions returns all known discussions.
func (o *Orchestrator) ListDiscussions(ctx context.Context) ([]*models.Discussion, error) {
	return o.repo.ListDiscussions(ctx)
}

// ListMessages returns persisted messages for a discussion.
func (o *Orchestrator) ListMessages(ctx context.Context, discussionID string, opts repository.ListMessagesOptions) ([]*models.Message, error) {
	if _, err := o.GetDiscussion(ctx, discussionID); err != nil {
		return nil, err
	}
	return o.repo.ListMessages(ctx, discussionID, opts)
}

// StartDiscussion transitions Draft to Active, assigns the first turn and
// arms the turn timer.
func (o *Orchestrator) StartDiscussion(ctx context.Context, id, actorID string) (*models.Discussion, error) {
	unlock := o.lockDiscussion(id)
	defer unlock()

	d, err := o.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusDraft {
		return nil, apperrors.InvalidState("discussion can only be started from draft status")
	}
	if len(d.ActiveParticipants()) < 2 {
		return nil, apperrors.InvalidState("at least 2 active participants are required to start")
	}

	previous := d.Status
	d.Status = models.StatusActive
	d.State.Phase = models.PhaseDiscussion
	statusEvent := models.NewEvent(models.EventStatusChanged, d.ID, actorID, models.StatusChangedData{
		PreviousStatus: previous,
		NewStatus:      models.StatusActive,
		ActorID:        actorID,
	})

	if d.TurnStrategy.IsFreeForm() {
		d.State.LastActivity = time.Now().UTC()
		if err := o.persistLocked(ctx, d); err != nil {
			return nil, err
		}
		o.emit(ctx, statusEvent)
		return d.Clone(), nil
	}

	resolution, turnEvent, err := o.resolveTurnLocked(d, actorID)
	if err != nil {
		return nil, err
	}
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, statusEvent, turnEvent)
	o.scheduleTurnLocked(d, resolution)

	o.logger.Info("Discussion started",
		zap.String("discussion_id", d.ID),
		zap.Int("turn_number", resolution.TurnNumber))
	return d.Clone(), nil
}

// ParticipantSpec carries the fields accepted when adding a participant.
type ParticipantSpec struct {
	UserID      string              `json:"user_id,omitempty"`
	AgentID     string              `json:"agent_id,omitempty"`
	PersonaID   string              `json:"persona_id,omitempty"`
	Role        models.Role         `json:"role,omitempty"`
	Permissions []models.Permission `json:"permissions,omitempty"`
	Expertise   []string            `json:"expertise,omitempty"`
}

// AddParticipant adds a participant to a discussion, or reactivates the
// existing record when the same identity rejoins.
func (o *Orchestrator) AddParticipant(ctx context.Context, discussionID string, spec ParticipantSpec, actorID string) (*models.Participant, error) {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		return nil, apperrors.InvalidState("cannot add participants to a terminal discussion")
	}
	if spec.UserID == "" && spec.AgentID == "" {
		return nil, apperrors.ValidationError("participant", "either user_id or agent_id is required")
	}
	if spec.AgentID != "" && spec.PersonaID == "" {
		return nil, apperrors.ValidationError("persona_id", "required for agent participants")
	}

	// A rejoining identity resumes its original participant record.
	existing, err := o.repo.FindParticipantByIdentity(ctx, discussionID, spec.UserID, spec.AgentID)
	if err == nil && existing != nil {
		existing.IsActive = true
		existing.LastActiveAt = time.Now().UTC()
		if err := o.repo.UpdateParticipant(ctx, existing); err != nil {
			return nil, err
		}
		o.refreshLocked(ctx, d)
		o.invalidateAnalysis(discussionID)
		o.emit(ctx, models.NewEvent(models.EventParticipantJoined, discussionID, actorID,
			models.ParticipantJoinedData{Participant: existing}))
		return existing, nil
	}

	if len(d.ActiveParticipants()) >= d.Settings.MaxParticipants {
		return nil, apperrors.PolicyViolation("discussion participant capacity reached")
	}

	role := spec.Role
	if role == "" {
		role = models.RoleParticipant
	}
	permissions := spec.Permissions
	if len(permissions) == 0 {
		permissions = defaultPermissions(role)
	}
	now := time.Now().UTC()
	p := &models.Participant{
		ID:           uuid.New().String(),
		DiscussionID: discussionID,
		UserID:       spec.UserID,
		AgentID:      spec.AgentID,
		PersonaID:    spec.PersonaID,
		Role:         role,
		IsActive:     true,
		Permissions:  permissions,
		Expertise:    spec.Expertise,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	if err := o.repo.AddParticipant(ctx, p); err != nil {
		return nil, err
	}
	o.refreshLocked(ctx, d)
	o.invalidateAnalysis(discussionID)
	o.emit(ctx, models.NewEvent(models.EventParticipantJoined, discussionID, actorID,
		models.ParticipantJoinedData{Participant: p}))

	o.logger.Info("Participant added",
		zap.String("discussion_id", discussionID),
		zap.String("participant_id", p.ID),
		zap.String("role", string(role)))
	return p, nil
}

// RemoveParticipant marks a participant inactive. If the participant held the
// current turn, the turn advances.
func (o *Orchestrator) RemoveParticipant(ctx context.Context, discussionID, participantID, actorID string) error {
	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		return err
	}
	p := d.Participant(participantID)
	if p == nil {
		return apperrors.NotFound("participant", participantID)
	}
	p.IsActive = false
	p.LastActiveAt = time.Now().UTC()
	if err := o.repo.UpdateParticipant(ctx, p); err != nil {
		return err
	}
	d = o.refreshLocked(ctx, d)
	o.invalidateAnalysis(discussionID)
	o.emit(ctx, models.NewEvent(models.EventParticipantLeft, discussionID, actorID,
		models.ParticipantLeftData{ParticipantID: participantID}))

	if d.Status == models.StatusActive && !d.TurnStrategy.IsFreeForm() && d.CurrentSpeakerID() == participantID {
		if _, err := o.advanceAndCommitLocked(ctx, d, ActorSystem); err != nil {
			o.logger.Error("Failed to advance turn after participant left",
				zap.String("discussion_id", discussionID),
				zap.Error(err))
		}
	}
	return nil
}

// PauseDiscussion cancels the turn timer, records the remaining turn time and
// transitions to Paused.
func (o *Orchestrator) PauseDiscussion(ctx context.Context, id, actorID, reason string) (*models.Discussion, error) {
	unlock := o.lockDiscussion(id)
	defer unlock()

	d, err := o.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusActive {
		return nil, apperrors.InvalidState("only active discussions can be paused")
	}

	o.timers.Cancel(id)

	if d.State.CurrentTurn.ExpectedEndAt != nil {
		remaining := time.Until(*d.State.CurrentTurn.ExpectedEndAt).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		d.Metadata[models.MetaPauseRemainingSeconds] = remaining
	}
	if reason != "" {
		d.Metadata[models.MetaPauseReason] = reason
	}

	previous := d.Status
	d.Status = models.StatusPaused
	d.State.LastActivity = time.Now().UTC()
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, models.NewEvent(models.EventStatusChanged, d.ID, actorID, models.StatusChangedData{
		PreviousStatus: previous,
		NewStatus:      models.StatusPaused,
		ActorID:        actorID,
		Reason:         reason,
	}))
	return d.Clone(), nil
}

// ResumeDiscussion re-arms the turn timer with the recorded remaining time.
// A remaining time of zero or less advances the turn immediately.
func (o *Orchestrator) ResumeDiscussion(ctx context.Context, id, actorID string) (*models.Discussion, error) {
	unlock := o.lockDiscussion(id)
	defer unlock()

	d, err := o.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusPaused {
		return nil, apperrors.InvalidState("only paused discussions can be resumed")
	}

	remaining := metaFloat(d, models.MetaPauseRemainingSeconds)
	delete(d.Metadata, models.MetaPauseRemainingSeconds)
	delete(d.Metadata, models.MetaPauseReason)

	previous := d.Status
	d.Status = models.StatusActive
	d.State.LastActivity = time.Now().UTC()
	statusEvent := models.NewEvent(models.EventStatusChanged, d.ID, actorID, models.StatusChangedData{
		PreviousStatus: previous,
		NewStatus:      models.StatusActive,
		ActorID:        actorID,
	})

	if d.TurnStrategy.IsFreeForm() || d.State.CurrentTurn.ParticipantID == nil {
		if err := o.persistLocked(ctx, d); err != nil {
			return nil, err
		}
		o.emit(ctx, statusEvent)
		return d.Clone(), nil
	}

	if remaining <= 0 {
		resolution, turnEvent, err := o.resolveTurnLocked(d, ActorSystem)
		if err != nil {
			return nil, err
		}
		if err := o.persistLocked(ctx, d); err != nil {
			return nil, err
		}
		o.emit(ctx, statusEvent, turnEvent)
		o.scheduleTurnLocked(d, resolution)
		return d.Clone(), nil
	}

	expectedEnd := time.Now().UTC().Add(time.Duration(remaining * float64(time.Second)))
	d.State.CurrentTurn.ExpectedEndAt = &expectedEnd
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, statusEvent)
	o.timers.Schedule(d.ID, d.State.CurrentTurn.TurnNumber,
		time.Duration(remaining*float64(time.Second)), o.handleTurnExpiry)
	return d.Clone(), nil
}

// EndDiscussion transitions Active or Paused to Completed and clears timers.
func (o *Orchestrator) EndDiscussion(ctx context.Context, id, actorID, reason string) (*models.Discussion, error) {
	return o.finishDiscussion(ctx, id, actorID, reason, models.StatusCompleted)
}

// CancelDiscussion transitions a non-terminal discussion to Cancelled.
func (o *Orchestrator) CancelDiscussion(ctx context.Context, id, actorID, reason string) (*models.Discussion, error) {
	return o.finishDiscussion(ctx, id, actorID, reason, models.StatusCancelled)
}

func (o *Orchestrator) finishDiscussion(ctx context.Context, id, actorID, reason string, target models.Status) (*models.Discussion, error) {
	unlock := o.lockDiscussion(id)
	defer unlock()

	d, err := o.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	switch target {
	case models.StatusCompleted:
		if d.Status != models.StatusActive && d.Status != models.StatusPaused {
			return nil, apperrors.InvalidState("only active or paused discussions can be ended")
		}
	case models.StatusCancelled:
		if d.Status.IsTerminal() {
			return nil, apperrors.InvalidState("discussion is already terminal")
		}
	}

	o.timers.Cancel(id)

	previous := d.Status
	d.Status = target
	d.State.Phase = models.PhaseConclusion
	d.State.CurrentTurn.ParticipantID = nil
	d.State.CurrentTurn.ExpectedEndAt = nil
	d.State.LastActivity = time.Now().UTC()
	if reason != "" {
		d.Metadata[models.MetaEndReason] = reason
	}
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, models.NewEvent(models.EventStatusChanged, d.ID, actorID, models.StatusChangedData{
		PreviousStatus: previous,
		NewStatus:      target,
		ActorID:        actorID,
		Reason:         reason,
	}))

	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
	o.invalidateAnalysis(id)

	o.logger.Info("Discussion finished",
		zap.String("discussion_id", id),
		zap.String("status", string(target)))
	return d.Clone(), nil
}

// ArchiveDiscussion transitions Completed or Cancelled to Archived.
func (o *Orchestrator) ArchiveDiscussion(ctx context.Context, id, actorID string) (*models.Discussion, error) {
	unlock := o.lockDiscussion(id)
	defer unlock()

	d, err := o.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusCompleted && d.Status != models.StatusCancelled {
		return nil, apperrors.InvalidState("only completed or cancelled discussions can be archived")
	}
	previous := d.Status
	d.Status = models.StatusArchived
	if err := o.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	o.emit(ctx, models.NewEvent(models.EventStatusChanged, d.ID, actorID, models.StatusChangedData{
		PreviousStatus: previous,
		NewStatus:      models.StatusArchived,
		ActorID:        actorID,
	}))
	return d.Clone(), nil
}

// VerifyParticipantAccess reports whether the user is an active participant
// of the discussion, and if so which participant record they hold.
func (o *Orchestrator) VerifyParticipantAccess(ctx context.Context, discussionID, userID string) (bool, string, error) {
	d, err := o.GetDiscussion(ctx, discussionID)
	if err != nil {
		return false, "", err
	}
	for _, p := range d.Participants {
		if p.IsActive && p.UserID == userID {
			return true, p.ID, nil
		}
	}
	return false, "", nil
}

// lockDiscussion acquires the per-discussion lock and returns its unlock.
func (o *Orchestrator) lockDiscussion(id string) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// loadLocked returns the cached discussion or reads through to the
// repository. Caller must hold the per-discussion lock.
func (o *Orchestrator) loadLocked(ctx context.Context, id string) (*models.Discussion, error) {
	o.mu.Lock()
	if d, ok := o.active[id]; ok {
		o.mu.Unlock()
		return d, nil
	}
	o.mu.Unlock()

	d, err := o.repo.GetDiscussion(ctx, id)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// persistLocked writes the discussion through to the repository and updates
// the active cache. Caller must hold the per-discussion lock.
func (o *Orchestrator) persistLocked(ctx context.Context, d *models.Discussion) error {
	d.UpdatedAt = time.Now().UTC()
	if err := o.repo.UpdateDiscussion(ctx, d); err != nil {
		return err
	}
	o.mu.Lock()
	if d.Status == models.StatusActive || d.Status == models.StatusPaused {
		o.active[d.ID] = d
	} else {
		delete(o.active, d.ID)
	}
	o.mu.Unlock()
	return nil
}

// refreshLocked reloads the discussion from the repository so cached
// participant lists reflect membership changes.
func (o *Orchestrator) refreshLocked(ctx context.Context, d *models.Discussion) *models.Discussion {
	fresh, err := o.repo.GetDiscussion(ctx, d.ID)
	if err != nil {
		o.logger.Warn("Failed to refresh discussion after membership change",
			zap.String("discussion_id", d.ID),
			zap.Error(err))
		return d
	}
	o.mu.Lock()
	if _, ok := o.active[d.ID]; ok {
		o.active[d.ID] = fresh
	}
	o.mu.Unlock()
	*d = *fresh
	return d
}

// invalidateAnalysis drops cached strategy analysis for a discussion.
func (o *Orchestrator) invalidateAnalysis(discussionID string) {
	for _, t := range []models.StrategyType{models.StrategyContextAware} {
		if inv, ok := o.strategies.Get(t).(analysisInvalidator); ok {
			inv.Invalidate(discussionID)
		}
	}
}

// defaultPermissions maps a role to its baseline capability set.
func defaultPermissions(role models.Role) []models.Permission {
	switch role {
	case models.RoleObserver:
		return []models.Permission{models.CanAddReactions}
	case models.RoleModerator, models.RoleFacilitator:
		return []models.Permission{
			models.CanSendMessages,
			models.CanRequestTurn,
			models.CanAddReactions,
			models.CanModerate,
		}
	default:
		return []models.Permission{
			models.CanSendMessages,
			models.CanRequestTurn,
			models.CanAddReactions,
		}
	}
}

// metaFloat reads a numeric value from discussion metadata. JSON round-trips
// store numbers as float64.
func metaFloat(d *models.Discussion, key string) float64 {
	if d.Metadata == nil {
		return 0
	}
	switch v := d.Metadata[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

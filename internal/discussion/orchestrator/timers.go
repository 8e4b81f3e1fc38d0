package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
)

// turnScheduler keeps at most one in-flight turn timer per discussion. Each
// timer is keyed by the turn number it was scheduled against; a fire whose
// generation no longer matches the stored entry is a no-op, so a manual
// advance that lands first simply wins.
type turnScheduler struct {
	mu     sync.Mutex
	timers map[string]*timerEntry
	logger *logger.Logger
}

type timerEntry struct {
	generation int
	timer      *time.Timer
}

func newTurnScheduler(log *logger.Logger) *turnScheduler {
	return &turnScheduler{
		timers: make(map[string]*timerEntry),
		logger: log,
	}
}

// Schedule replaces any existing timer for the discussion with one firing
// after d. A non-positive duration fires immediately.
func (s *turnScheduler) Schedule(discussionID string, generation int, d time.Duration, fire func(discussionID string, generation int)) {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[discussionID]; ok {
		existing.timer.Stop()
	}

	entry := &timerEntry{generation: generation}
	entry.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.timers[discussionID]
		if !ok || current != entry {
			s.mu.Unlock()
			return
		}
		delete(s.timers, discussionID)
		s.mu.Unlock()

		fire(discussionID, generation)
	})
	s.timers[discussionID] = entry

	s.logger.Debug("Turn timer armed",
		zap.String("discussion_id", discussionID),
		zap.Int("generation", generation),
		zap.Duration("duration", d))
}

// Cancel stops and removes the timer for a discussion, if any.
func (s *turnScheduler) Cancel(discussionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.timers[discussionID]; ok {
		entry.timer.Stop()
		delete(s.timers, discussionID)
	}
}

// CancelAll stops every timer. Used on shutdown.
func (s *turnScheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.timers {
		entry.timer.Stop()
		delete(s.timers, id)
	}
}

// Len returns the number of armed timers.
func (s *turnScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// handleTurnExpiry is the timer callback. It re-checks the discussion under
// the per-discussion lock: the turn number must still match the generation
// the timer was scheduled against, otherwise a concurrent advance already won.
// Transient failures are retried once after a short backoff.
func (o *Orchestrator) handleTurnExpiry(discussionID string, generation int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unlock := o.lockDiscussion(discussionID)
	defer unlock()

	d, err := o.loadLocked(ctx, discussionID)
	if err != nil {
		o.logger.Warn("Turn expiry for unknown discussion",
			zap.String("discussion_id", discussionID),
			zap.Error(err))
		return
	}
	if d.Status != models.StatusActive {
		return
	}
	if d.State.CurrentTurn.TurnNumber != generation {
		o.logger.Debug("Stale turn timer ignored",
			zap.String("discussion_id", discussionID),
			zap.Int("fired_generation", generation),
			zap.Int("current_turn", d.State.CurrentTurn.TurnNumber))
		return
	}

	if _, err := o.advanceAndCommitLocked(ctx, d, ActorSystem); err != nil {
		if !apperrors.Is(err, apperrors.ErrCodeTransient) {
			o.logger.Error("System turn advance failed",
				zap.String("discussion_id", discussionID),
				zap.Error(err))
			return
		}

		backoff := time.Duration(o.cfg.Discussion.TimerRetryBackoffMS) * time.Millisecond
		o.logger.Warn("System turn advance hit transient failure, retrying",
			zap.String("discussion_id", discussionID),
			zap.Duration("backoff", backoff))
		time.Sleep(backoff)

		if _, err := o.advanceAndCommitLocked(ctx, d, ActorSystem); err != nil {
			o.logger.Error("System turn advance failed after retry",
				zap.String("discussion_id", discussionID),
				zap.Error(err))
		}
	}
}

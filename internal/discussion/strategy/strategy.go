// Package strategy implements pluggable turn-selection algorithms.
//
// Strategies are stateless: all mutable context (pending moderator
// selections, approvals, completion flags) lives in the Discussion, so the
// same engine can serve every discussion concurrently.
package strategy

import (
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
)

// Strategy is the common contract every turn-selection algorithm implements.
// All four operations are pure with respect to their inputs.
type Strategy interface {
	// Type returns the strategy tag this implementation serves.
	Type() models.StrategyType

	// NextParticipant returns the participant who should speak next,
	// or nil when no participant is eligible.
	NextParticipant(discussion *models.Discussion, active []*models.Participant, cfg models.StrategyConfig) *models.Participant

	// CanParticipantTakeTurn reports whether the participant is eligible
	// to take a turn right now.
	CanParticipantTakeTurn(participant *models.Participant, discussion *models.Discussion, cfg models.StrategyConfig) bool

	// ShouldAdvanceTurn reports whether the current turn should end.
	ShouldAdvanceTurn(discussion *models.Discussion, current *models.Participant, cfg models.StrategyConfig) bool

	// EstimateTurnDuration returns the expected turn length in seconds.
	EstimateTurnDuration(participant *models.Participant, discussion *models.Discussion, cfg models.StrategyConfig) float64
}

// Engine resolves strategy tags to implementations.
type Engine struct {
	strategies map[models.StrategyType]Strategy
	fallback   Strategy
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewEngine creates an engine with the built-in strategies registered.
func NewEngine(log *logger.Logger) *Engine {
	roundRobin := NewRoundRobin()
	e := &Engine{
		strategies: make(map[models.StrategyType]Strategy),
		fallback:   roundRobin,
		logger:     log.WithFields(zap.String("component", "strategy_engine")),
	}
	e.Register(roundRobin)
	e.Register(NewModerated())
	e.Register(NewContextAware(roundRobin, log))
	return e
}

// Register adds a strategy implementation. Later registrations for the same
// tag replace earlier ones.
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Type()] = s
}

// Get returns the strategy for the given tag. Unknown tags fall back to
// round-robin with a warning.
func (e *Engine) Get(t models.StrategyType) Strategy {
	e.mu.RLock()
	s, ok := e.strategies[t]
	e.mu.RUnlock()
	if ok {
		return s
	}
	e.logger.Warn("Unknown turn strategy, falling back to round-robin",
		zap.String("strategy", string(t)))
	return e.fallback
}

// ValidateConfig checks strategy configuration bounds before a discussion
// is created or its strategy changed.
func ValidateConfig(t models.StrategyType, cfg models.StrategyConfig) error {
	if cfg.TurnTimeoutSeconds != 0 && (cfg.TurnTimeoutSeconds < 10 || cfg.TurnTimeoutSeconds > 3600) {
		return apperrors.ValidationError("turn_timeout_seconds", "must be between 10 and 3600")
	}
	if cfg.RelevanceThreshold < 0 || cfg.RelevanceThreshold > 1 {
		return apperrors.ValidationError("relevance_threshold", "must be between 0 and 1")
	}
	if cfg.EngagementThresh < 0 || cfg.EngagementThresh > 1 {
		return apperrors.ValidationError("engagement_threshold", "must be between 0 and 1")
	}
	if cfg.CooldownSeconds < 0 {
		return apperrors.ValidationError("cooldown_seconds", "must not be negative")
	}
	if cfg.MaxMessagesPerTurn < 0 {
		return apperrors.ValidationError("max_messages_per_turn", "must not be negative")
	}
	// Moderated discussions need either explicit approval or a selection
	// mechanism; RequireApproval enables both paths.
	if t == models.StrategyModerated && !cfg.RequireApproval {
		return apperrors.ValidationError("require_approval", "moderated strategy requires approval")
	}
	return nil
}

// metaString reads a string value from discussion metadata.
func metaString(d *models.Discussion, key string) string {
	if d.Metadata == nil {
		return ""
	}
	if v, ok := d.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// metaBool reads a boolean flag from discussion metadata.
func metaBool(d *models.Discussion, key string) bool {
	if d.Metadata == nil {
		return false
	}
	if v, ok := d.Metadata[key].(bool); ok {
		return v
	}
	return false
}

// metaStringSlice reads a string list from discussion metadata. JSON
// round-trips produce []interface{}, so both shapes are handled.
func metaStringSlice(d *models.Discussion, key string) []string {
	if d.Metadata == nil {
		return nil
	}
	switch v := d.Metadata[key].(type) {
	case []string:
		return v
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// inCooldown reports whether the participant spoke too recently to take
// another turn. Participants who have not spoken yet are never cooling down;
// LastActiveAt is set at join time.
func inCooldown(p *models.Participant, cfg models.StrategyConfig) bool {
	if cfg.CooldownSeconds <= 0 || p.MessageCount == 0 || p.LastActiveAt.IsZero() {
		return false
	}
	return time.Since(p.LastActiveAt) < time.Duration(cfg.CooldownSeconds)*time.Second
}

// effectiveTimeout returns the configured turn timeout in seconds, falling
// back to the discussion settings and then to the strategy default.
func effectiveTimeout(d *models.Discussion, cfg models.StrategyConfig, def int) int {
	if cfg.TurnTimeoutSeconds > 0 {
		return cfg.TurnTimeoutSeconds
	}
	if d.Settings.TurnTimeoutSeconds > 0 {
		return d.Settings.TurnTimeoutSeconds
	}
	return def
}

package strategy

import (
	"time"

	"github.com/colloquy/colloquy/internal/discussion/models"
)

// DefaultModeratedTimeout is the fallback turn length for moderated
// discussions, in seconds.
const DefaultModeratedTimeout = 600

// Moderated hands turn selection to a moderator. The pending selection and
// the advance flag are recorded in discussion metadata by the orchestrator's
// moderator actions.
type Moderated struct{}

var _ Strategy = (*Moderated)(nil)

// NewModerated creates the moderated strategy.
func NewModerated() *Moderated {
	return &Moderated{}
}

// Type returns the moderated tag.
func (s *Moderated) Type() models.StrategyType {
	return models.StrategyModerated
}

// NextParticipant returns the pending moderator selection if recorded,
// otherwise the primary moderator to signal that a moderator action is needed.
func (s *Moderated) NextParticipant(d *models.Discussion, active []*models.Participant, cfg models.StrategyConfig) *models.Participant {
	if selected := metaString(d, models.MetaPendingModeratorSelection); selected != "" {
		for _, p := range active {
			if p.ID == selected {
				return p
			}
		}
	}
	return primaryModerator(active)
}

// CanParticipantTakeTurn allows moderators always; other participants only
// when explicitly approved or currently selected.
func (s *Moderated) CanParticipantTakeTurn(p *models.Participant, d *models.Discussion, cfg models.StrategyConfig) bool {
	if !p.IsActive {
		return false
	}
	if p.Role == models.RoleModerator {
		return true
	}
	if metaString(d, models.MetaPendingModeratorSelection) == p.ID {
		return true
	}
	if d.CurrentSpeakerID() == p.ID {
		return true
	}
	for _, approved := range metaStringSlice(d, models.MetaApprovedParticipants) {
		if approved == p.ID {
			return true
		}
	}
	return false
}

// ShouldAdvanceTurn ends the turn on moderator-explicit advance, timeout,
// or participant completion.
func (s *Moderated) ShouldAdvanceTurn(d *models.Discussion, current *models.Participant, cfg models.StrategyConfig) bool {
	if metaBool(d, models.MetaModeratorAdvance) {
		return true
	}
	if metaBool(d, models.MetaTurnCompleted) {
		return true
	}
	startedAt := d.State.CurrentTurn.StartedAt
	if startedAt == nil {
		return false
	}
	timeout := time.Duration(effectiveTimeout(d, cfg, DefaultModeratedTimeout)) * time.Second
	return time.Since(*startedAt) >= timeout
}

// EstimateTurnDuration returns the configured turn timeout.
func (s *Moderated) EstimateTurnDuration(p *models.Participant, d *models.Discussion, cfg models.StrategyConfig) float64 {
	return float64(effectiveTimeout(d, cfg, DefaultModeratedTimeout))
}

// primaryModerator returns the first active moderator in join order, or nil.
func primaryModerator(active []*models.Participant) *models.Participant {
	moderators := make([]*models.Participant, 0, 1)
	for _, p := range active {
		if p.Role == models.RoleModerator && p.IsActive {
			moderators = append(moderators, p)
		}
	}
	if len(moderators) == 0 {
		return nil
	}
	sortByJoin(moderators)
	return moderators[0]
}

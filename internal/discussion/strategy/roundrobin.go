package strategy

import (
	"sort"
	"time"

	"github.com/colloquy/colloquy/internal/discussion/models"
)

// DefaultRoundRobinTimeout is the fallback turn length for round-robin
// discussions, in seconds.
const DefaultRoundRobinTimeout = 300

// RoundRobin selects speakers in join order, wrapping around.
type RoundRobin struct{}

var _ Strategy = (*RoundRobin)(nil)

// NewRoundRobin creates the round-robin strategy.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Type returns the round-robin tag.
func (s *RoundRobin) Type() models.StrategyType {
	return models.StrategyRoundRobin
}

// NextParticipant selects position (turnNumber mod N) in join order.
func (s *RoundRobin) NextParticipant(d *models.Discussion, active []*models.Participant, cfg models.StrategyConfig) *models.Participant {
	eligible := make([]*models.Participant, 0, len(active))
	for _, p := range active {
		if s.CanParticipantTakeTurn(p, d, cfg) {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sortByJoin(eligible)
	return eligible[d.State.CurrentTurn.TurnNumber%len(eligible)]
}

// CanParticipantTakeTurn requires an active participant permitted to send
// messages and past any configured cooldown.
func (s *RoundRobin) CanParticipantTakeTurn(p *models.Participant, d *models.Discussion, cfg models.StrategyConfig) bool {
	return p.IsActive && p.HasPermission(models.CanSendMessages) && !inCooldown(p, cfg)
}

// ShouldAdvanceTurn ends the turn on timeout or explicit end-of-turn signal.
func (s *RoundRobin) ShouldAdvanceTurn(d *models.Discussion, current *models.Participant, cfg models.StrategyConfig) bool {
	if metaBool(d, models.MetaTurnCompleted) {
		return true
	}
	startedAt := d.State.CurrentTurn.StartedAt
	if startedAt == nil {
		return false
	}
	timeout := time.Duration(effectiveTimeout(d, cfg, DefaultRoundRobinTimeout)) * time.Second
	return time.Since(*startedAt) >= timeout
}

// EstimateTurnDuration returns the configured turn timeout.
func (s *RoundRobin) EstimateTurnDuration(p *models.Participant, d *models.Discussion, cfg models.StrategyConfig) float64 {
	return float64(effectiveTimeout(d, cfg, DefaultRoundRobinTimeout))
}

// sortByJoin orders participants by join time ascending, id as tie-break.
func sortByJoin(participants []*models.Participant) {
	sort.SliceStable(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].ID < participants[j].ID
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
}

package strategy

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
)

// Scoring weights and thresholds for the context-aware strategy.
const (
	weightRelevance  = 0.4
	weightExpertise  = 0.3
	weightEngagement = 0.3

	defaultRelevanceThreshold  = 0.3
	defaultEngagementThreshold = 0.2

	// A challenger whose relevance beats the current speaker's by more
	// than this margin forces an advance.
	relevanceOvertakeMargin = 0.3

	analysisCacheTTL = 30 * time.Second
)

// participantScore holds the per-participant analysis components, each in [0,1].
type participantScore struct {
	Relevance  float64
	Expertise  float64
	Engagement float64
}

// Composite returns the weighted selection score.
func (s participantScore) Composite() float64 {
	return weightRelevance*s.Relevance + weightExpertise*s.Expertise + weightEngagement*s.Engagement
}

type contextAnalysis struct {
	scores     map[string]participantScore
	computedAt time.Time
}

// ContextAware scores participants against the discussion topic and selects
// the highest-scoring one. Analyses are cached per discussion for a short
// window to keep repeated turn checks cheap.
type ContextAware struct {
	fallback Strategy
	logger   *logger.Logger

	cache map[string]*contextAnalysis
	mu    sync.Mutex
}

var _ Strategy = (*ContextAware)(nil)

// NewContextAware creates the context-aware strategy with the given fallback.
func NewContextAware(fallback Strategy, log *logger.Logger) *ContextAware {
	return &ContextAware{
		fallback: fallback,
		logger:   log.WithFields(zap.String("component", "context_aware_strategy")),
		cache:    make(map[string]*contextAnalysis),
	}
}

// Type returns the context-aware tag.
func (s *ContextAware) Type() models.StrategyType {
	return models.StrategyContextAware
}

// NextParticipant selects the highest-scoring eligible participant, falling
// back to round-robin when scoring yields no candidate.
func (s *ContextAware) NextParticipant(d *models.Discussion, active []*models.Participant, cfg models.StrategyConfig) *models.Participant {
	scores := s.analyze(d, active)

	var best *models.Participant
	bestScore := -1.0
	for _, p := range active {
		if !s.eligible(p, scores[p.ID], cfg) {
			continue
		}
		if composite := scores[p.ID].Composite(); composite > bestScore {
			best = p
			bestScore = composite
		}
	}
	if best == nil {
		s.logger.Debug("Context scoring produced no candidate, falling back to round-robin",
			zap.String("discussion_id", d.ID))
		return s.fallback.NextParticipant(d, active, cfg)
	}
	return best
}

// CanParticipantTakeTurn requires minimum relevance and engagement.
func (s *ContextAware) CanParticipantTakeTurn(p *models.Participant, d *models.Discussion, cfg models.StrategyConfig) bool {
	if !p.IsActive || !p.HasPermission(models.CanSendMessages) {
		return false
	}
	scores := s.analyze(d, d.ActiveParticipants())
	return s.eligible(p, scores[p.ID], cfg)
}

func (s *ContextAware) eligible(p *models.Participant, score participantScore, cfg models.StrategyConfig) bool {
	if !p.IsActive || !p.HasPermission(models.CanSendMessages) {
		return false
	}
	if inCooldown(p, cfg) {
		return false
	}
	relevanceMin := cfg.RelevanceThreshold
	if relevanceMin == 0 {
		relevanceMin = defaultRelevanceThreshold
	}
	engagementMin := cfg.EngagementThresh
	if engagementMin == 0 {
		engagementMin = defaultEngagementThreshold
	}
	return score.Relevance >= relevanceMin && score.Engagement >= engagementMin
}

// ShouldAdvanceTurn ends the turn on timeout, completion, or when another
// participant's relevance overtakes the current speaker's by a clear margin.
func (s *ContextAware) ShouldAdvanceTurn(d *models.Discussion, current *models.Participant, cfg models.StrategyConfig) bool {
	if metaBool(d, models.MetaTurnCompleted) {
		return true
	}
	if startedAt := d.State.CurrentTurn.StartedAt; startedAt != nil {
		timeout := time.Duration(effectiveTimeout(d, cfg, DefaultRoundRobinTimeout)) * time.Second
		if time.Since(*startedAt) >= timeout {
			return true
		}
	}
	if current == nil {
		return false
	}
	scores := s.analyze(d, d.ActiveParticipants())
	currentRelevance := scores[current.ID].Relevance
	for id, score := range scores {
		if id == current.ID {
			continue
		}
		if score.Relevance > currentRelevance+relevanceOvertakeMargin {
			return true
		}
	}
	return false
}

// EstimateTurnDuration stretches the base timeout for highly relevant or
// expert speakers and shortens it for weak matches.
func (s *ContextAware) EstimateTurnDuration(p *models.Participant, d *models.Discussion, cfg models.StrategyConfig) float64 {
	base := float64(effectiveTimeout(d, cfg, DefaultRoundRobinTimeout))
	if p == nil {
		return base
	}
	score := s.analyze(d, d.ActiveParticipants())[p.ID]
	switch {
	case score.Relevance > 0.8 || score.Expertise > 0.8:
		return base * 1.5
	case score.Relevance < 0.3 && score.Expertise < 0.3:
		return base * 0.7
	default:
		return base
	}
}

// analyze returns (possibly cached) per-participant scores for a discussion.
func (s *ContextAware) analyze(d *models.Discussion, active []*models.Participant) map[string]participantScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[d.ID]; ok && time.Since(cached.computedAt) < analysisCacheTTL {
		return cached.scores
	}

	scores := make(map[string]participantScore, len(active))
	totalMessages := 0
	for _, p := range active {
		totalMessages += p.MessageCount
	}
	for _, p := range active {
		scores[p.ID] = participantScore{
			Relevance:  topicRelevance(d.Topic, p),
			Expertise:  expertiseMatch(d.Topic, p),
			Engagement: engagementLevel(p, totalMessages),
		}
	}

	s.cache[d.ID] = &contextAnalysis{scores: scores, computedAt: time.Now()}
	return scores
}

// Invalidate drops the cached analysis for a discussion. Called by the
// orchestrator after participant or topic changes.
func (s *ContextAware) Invalidate(discussionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, discussionID)
}

// topicRelevance is a token-overlap heuristic between the discussion topic
// and the participant's declared expertise.
func topicRelevance(topic string, p *models.Participant) float64 {
	topicTokens := tokenize(topic)
	if len(topicTokens) == 0 {
		// No topic to match against; everybody is moderately relevant.
		return 0.5
	}
	matched := 0
	for _, area := range p.Expertise {
		for token := range tokenize(area) {
			if _, ok := topicTokens[token]; ok {
				matched++
			}
		}
	}
	relevance := float64(matched) / float64(len(topicTokens))
	if relevance > 1 {
		relevance = 1
	}
	// Participants with no declared expertise keep a baseline so a purely
	// social discussion still rotates.
	if len(p.Expertise) == 0 {
		relevance = 0.3
	}
	return relevance
}

// expertiseMatch combines declared-expertise overlap with role bonuses.
func expertiseMatch(topic string, p *models.Participant) float64 {
	match := topicRelevance(topic, p) * 0.5
	switch p.Role {
	case models.RoleExpert:
		match += 0.3
	case models.RoleModerator:
		match += 0.2
	}
	if match > 1 {
		match = 1
	}
	return match
}

// engagementLevel grows with recency of activity and share of messages.
func engagementLevel(p *models.Participant, totalMessages int) float64 {
	recency := 0.0
	if !p.LastActiveAt.IsZero() {
		idle := time.Since(p.LastActiveAt)
		if idle < 0 {
			idle = 0
		}
		// Full credit inside 5 minutes, decaying to zero at 30 minutes.
		const window = 30 * time.Minute
		if idle < window {
			recency = 1 - float64(idle)/float64(window)
		}
	}
	share := 0.0
	if totalMessages > 0 {
		share = float64(p.MessageCount) / float64(totalMessages)
	}
	level := 0.6*recency + 0.4*share
	if level > 1 {
		level = 1
	}
	return level
}

func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, field := range strings.Fields(strings.ToLower(s)) {
		token := strings.Trim(field, ".,;:!?()[]\"'")
		if len(token) > 2 {
			tokens[token] = struct{}{}
		}
	}
	return tokens
}

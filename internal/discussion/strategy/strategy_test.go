package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func newDiscussion(strategy models.StrategyType, participants ...*models.Participant) *models.Discussion {
	now := time.Now()
	started := now.Add(-time.Minute)
	speaker := ""
	if len(participants) > 0 {
		speaker = participants[0].ID
	}
	return &models.Discussion{
		ID:           "disc-1",
		Title:        "Scaling review",
		Topic:        "kubernetes cluster scaling",
		Status:       models.StatusActive,
		TurnStrategy: strategy,
		Participants: participants,
		Metadata:     map[string]interface{}{},
		State: models.State{
			CurrentTurn: models.CurrentTurn{
				ParticipantID: &speaker,
				StartedAt:     &started,
				TurnNumber:    0,
			},
			Phase: models.PhaseDiscussion,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newParticipant(id string, role models.Role, joinedOffset time.Duration) *models.Participant {
	return &models.Participant{
		ID:           id,
		DiscussionID: "disc-1",
		UserID:       "user-" + id,
		Role:         role,
		IsActive:     true,
		Permissions:  []models.Permission{models.CanSendMessages, models.CanRequestTurn, models.CanAddReactions},
		JoinedAt:     time.Now().Add(joinedOffset),
		LastActiveAt: time.Now(),
	}
}

func TestEngineFallsBackToRoundRobin(t *testing.T) {
	engine := NewEngine(testLogger(t))

	s := engine.Get(models.StrategyType("fishbowl"))
	assert.Equal(t, models.StrategyRoundRobin, s.Type())
}

func TestEngineResolvesRegisteredStrategies(t *testing.T) {
	engine := NewEngine(testLogger(t))

	assert.Equal(t, models.StrategyRoundRobin, engine.Get(models.StrategyRoundRobin).Type())
	assert.Equal(t, models.StrategyModerated, engine.Get(models.StrategyModerated).Type())
	assert.Equal(t, models.StrategyContextAware, engine.Get(models.StrategyContextAware).Type())
}

func TestRoundRobinSelectsInJoinOrder(t *testing.T) {
	a := newParticipant("p-a", models.RoleParticipant, -3*time.Hour)
	b := newParticipant("p-b", models.RoleParticipant, -2*time.Hour)
	c := newParticipant("p-c", models.RoleParticipant, -1*time.Hour)
	d := newDiscussion(models.StrategyRoundRobin, a, b, c)

	rr := NewRoundRobin()
	cfg := models.StrategyConfig{}

	for turn, want := range []string{"p-a", "p-b", "p-c", "p-a"} {
		d.State.CurrentTurn.TurnNumber = turn
		next := rr.NextParticipant(d, d.ActiveParticipants(), cfg)
		require.NotNil(t, next)
		assert.Equal(t, want, next.ID, "turn %d", turn)
	}
}

func TestRoundRobinSkipsIneligibleParticipants(t *testing.T) {
	a := newParticipant("p-a", models.RoleParticipant, -3*time.Hour)
	b := newParticipant("p-b", models.RoleObserver, -2*time.Hour)
	b.Permissions = []models.Permission{models.CanAddReactions}
	c := newParticipant("p-c", models.RoleParticipant, -1*time.Hour)
	c.IsActive = false
	d := newDiscussion(models.StrategyRoundRobin, a, b, c)

	rr := NewRoundRobin()
	next := rr.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, next)
	assert.Equal(t, "p-a", next.ID)

	d.State.CurrentTurn.TurnNumber = 1
	next = rr.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, next)
	assert.Equal(t, "p-a", next.ID)
}

func TestRoundRobinReturnsNilWithoutEligibleParticipants(t *testing.T) {
	a := newParticipant("p-a", models.RoleParticipant, 0)
	a.IsActive = false
	d := newDiscussion(models.StrategyRoundRobin, a)

	rr := NewRoundRobin()
	assert.Nil(t, rr.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{}))
}

func TestRoundRobinAdvancesOnTimeout(t *testing.T) {
	a := newParticipant("p-a", models.RoleParticipant, 0)
	d := newDiscussion(models.StrategyRoundRobin, a)
	rr := NewRoundRobin()
	cfg := models.StrategyConfig{TurnTimeoutSeconds: 30}

	recent := time.Now().Add(-10 * time.Second)
	d.State.CurrentTurn.StartedAt = &recent
	assert.False(t, rr.ShouldAdvanceTurn(d, a, cfg))

	expired := time.Now().Add(-31 * time.Second)
	d.State.CurrentTurn.StartedAt = &expired
	assert.True(t, rr.ShouldAdvanceTurn(d, a, cfg))
}

func TestRoundRobinAdvancesOnCompletionFlag(t *testing.T) {
	a := newParticipant("p-a", models.RoleParticipant, 0)
	d := newDiscussion(models.StrategyRoundRobin, a)
	d.Metadata[models.MetaTurnCompleted] = true

	assert.True(t, NewRoundRobin().ShouldAdvanceTurn(d, a, models.StrategyConfig{}))
}

func TestRoundRobinHonorsCooldown(t *testing.T) {
	a := newParticipant("p-a", models.RoleParticipant, -3*time.Hour)
	a.MessageCount = 4
	a.LastActiveAt = time.Now().Add(-5 * time.Second)
	b := newParticipant("p-b", models.RoleParticipant, -2*time.Hour)
	b.MessageCount = 2
	b.LastActiveAt = time.Now().Add(-time.Minute)
	d := newDiscussion(models.StrategyRoundRobin, a, b)

	rr := NewRoundRobin()
	cfg := models.StrategyConfig{CooldownSeconds: 30}
	assert.False(t, rr.CanParticipantTakeTurn(a, d, cfg))
	assert.True(t, rr.CanParticipantTakeTurn(b, d, cfg))

	// The cooled-down speaker is skipped at selection time
	next := rr.NextParticipant(d, d.ActiveParticipants(), cfg)
	require.NotNil(t, next)
	assert.Equal(t, "p-b", next.ID)

	// Participants who have not spoken yet are never cooling down
	fresh := newParticipant("p-c", models.RoleParticipant, 0)
	assert.True(t, rr.CanParticipantTakeTurn(fresh, d, cfg))
}

func TestModeratedHonorsPendingSelection(t *testing.T) {
	mod := newParticipant("p-mod", models.RoleModerator, -3*time.Hour)
	a := newParticipant("p-a", models.RoleParticipant, -2*time.Hour)
	d := newDiscussion(models.StrategyModerated, mod, a)
	d.Metadata[models.MetaPendingModeratorSelection] = "p-a"

	m := NewModerated()
	next := m.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, next)
	assert.Equal(t, "p-a", next.ID)
}

func TestModeratedDefaultsToPrimaryModerator(t *testing.T) {
	late := newParticipant("p-mod2", models.RoleModerator, -1*time.Hour)
	early := newParticipant("p-mod1", models.RoleModerator, -2*time.Hour)
	a := newParticipant("p-a", models.RoleParticipant, -3*time.Hour)
	d := newDiscussion(models.StrategyModerated, late, early, a)

	next := NewModerated().NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, next)
	assert.Equal(t, "p-mod1", next.ID)
}

func TestModeratedGatesUnapprovedParticipants(t *testing.T) {
	mod := newParticipant("p-mod", models.RoleModerator, -3*time.Hour)
	a := newParticipant("p-a", models.RoleParticipant, -2*time.Hour)
	b := newParticipant("p-b", models.RoleParticipant, -1*time.Hour)
	d := newDiscussion(models.StrategyModerated, mod, a, b)
	d.Metadata[models.MetaApprovedParticipants] = []interface{}{"p-a"}

	m := NewModerated()
	cfg := models.StrategyConfig{RequireApproval: true}
	assert.True(t, m.CanParticipantTakeTurn(mod, d, cfg))
	assert.True(t, m.CanParticipantTakeTurn(a, d, cfg))
	assert.False(t, m.CanParticipantTakeTurn(b, d, cfg))
}

func TestModeratedAdvancesOnModeratorSignal(t *testing.T) {
	mod := newParticipant("p-mod", models.RoleModerator, 0)
	d := newDiscussion(models.StrategyModerated, mod)

	m := NewModerated()
	assert.False(t, m.ShouldAdvanceTurn(d, mod, models.StrategyConfig{}))

	d.Metadata[models.MetaModeratorAdvance] = true
	assert.True(t, m.ShouldAdvanceTurn(d, mod, models.StrategyConfig{}))
}

func TestContextAwarePrefersRelevantExpertise(t *testing.T) {
	expert := newParticipant("p-expert", models.RoleExpert, -2*time.Hour)
	expert.Expertise = []string{"kubernetes scaling", "cluster operations"}
	generalist := newParticipant("p-gen", models.RoleParticipant, -3*time.Hour)
	generalist.Expertise = []string{"marketing"}
	d := newDiscussion(models.StrategyContextAware, generalist, expert)

	ca := NewContextAware(NewRoundRobin(), testLogger(t))
	next := ca.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, next)
	assert.Equal(t, "p-expert", next.ID)
}

func TestTopicRelevanceCountsTokenOverlap(t *testing.T) {
	p := newParticipant("p-a", models.RoleParticipant, 0)

	// Multi-word expertise entries contribute one match per overlapping token.
	p.Expertise = []string{"cluster scaling policies", "incident response"}
	assert.InDelta(t, 2.0/3.0, topicRelevance("kubernetes cluster scaling", p), 0.001)

	p.Expertise = []string{"marketing"}
	assert.InDelta(t, 0, topicRelevance("kubernetes cluster scaling", p), 0.001)

	// No declared expertise keeps the baseline; no topic makes everyone average.
	p.Expertise = nil
	assert.InDelta(t, 0.3, topicRelevance("kubernetes cluster scaling", p), 0.001)
	assert.InDelta(t, 0.5, topicRelevance("", p), 0.001)
}

func TestContextAwareSkipsCooledDownSpeaker(t *testing.T) {
	a := newParticipant("p-a", models.RoleExpert, -2*time.Hour)
	a.Expertise = []string{"kubernetes", "cluster", "scaling"}
	a.MessageCount = 3
	a.LastActiveAt = time.Now().Add(-2 * time.Second)
	b := newParticipant("p-b", models.RoleParticipant, -1*time.Hour)
	b.Expertise = []string{"kubernetes scaling"}
	b.MessageCount = 1
	b.LastActiveAt = time.Now().Add(-time.Minute)
	d := newDiscussion(models.StrategyContextAware, a, b)

	ca := NewContextAware(NewRoundRobin(), testLogger(t))
	next := ca.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{CooldownSeconds: 15})
	require.NotNil(t, next)
	assert.Equal(t, "p-b", next.ID)
}

func TestContextAwareFallsBackWhenNobodyQualifies(t *testing.T) {
	a := newParticipant("p-a", models.RoleParticipant, -2*time.Hour)
	a.Expertise = []string{"marketing"}
	a.LastActiveAt = time.Time{}
	b := newParticipant("p-b", models.RoleParticipant, -1*time.Hour)
	b.Expertise = []string{"finance"}
	b.LastActiveAt = time.Time{}
	d := newDiscussion(models.StrategyContextAware, a, b)

	ca := NewContextAware(NewRoundRobin(), testLogger(t))
	next := ca.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, next)
	assert.Equal(t, "p-a", next.ID)
}

func TestContextAwareDurationMultipliers(t *testing.T) {
	strong := newParticipant("p-strong", models.RoleExpert, -2*time.Hour)
	strong.Expertise = []string{"kubernetes", "cluster", "scaling"}
	weak := newParticipant("p-weak", models.RoleParticipant, -1*time.Hour)
	weak.Expertise = []string{"marketing"}
	d := newDiscussion(models.StrategyContextAware, strong, weak)

	ca := NewContextAware(NewRoundRobin(), testLogger(t))
	cfg := models.StrategyConfig{TurnTimeoutSeconds: 100}

	assert.InDelta(t, 150, ca.EstimateTurnDuration(strong, d, cfg), 0.001)
	assert.InDelta(t, 70, ca.EstimateTurnDuration(weak, d, cfg), 0.001)
}

func TestContextAwareAdvancesWhenRelevanceOvertakes(t *testing.T) {
	weak := newParticipant("p-weak", models.RoleParticipant, -2*time.Hour)
	weak.Expertise = []string{"marketing"}
	strong := newParticipant("p-strong", models.RoleExpert, -1*time.Hour)
	strong.Expertise = []string{"kubernetes", "cluster", "scaling"}
	d := newDiscussion(models.StrategyContextAware, weak, strong)

	ca := NewContextAware(NewRoundRobin(), testLogger(t))
	assert.True(t, ca.ShouldAdvanceTurn(d, weak, models.StrategyConfig{TurnTimeoutSeconds: 3600}))
	assert.False(t, ca.ShouldAdvanceTurn(d, strong, models.StrategyConfig{TurnTimeoutSeconds: 3600}))
}

func TestContextAwareCachesAnalysis(t *testing.T) {
	a := newParticipant("p-a", models.RoleExpert, -2*time.Hour)
	a.Expertise = []string{"kubernetes", "cluster", "scaling"}
	b := newParticipant("p-b", models.RoleParticipant, -1*time.Hour)
	b.Expertise = []string{"marketing"}
	d := newDiscussion(models.StrategyContextAware, a, b)

	ca := NewContextAware(NewRoundRobin(), testLogger(t))
	first := ca.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, first)
	assert.Equal(t, "p-a", first.ID)

	// Swapping expertise does not change selection until the cache is dropped.
	a.Expertise, b.Expertise = b.Expertise, a.Expertise
	cached := ca.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, cached)
	assert.Equal(t, "p-a", cached.ID)

	ca.Invalidate(d.ID)
	fresh := ca.NextParticipant(d, d.ActiveParticipants(), models.StrategyConfig{})
	require.NotNil(t, fresh)
	assert.Equal(t, "p-b", fresh.ID)
}

func TestValidateConfigBounds(t *testing.T) {
	assert.NoError(t, ValidateConfig(models.StrategyRoundRobin, models.StrategyConfig{}))
	assert.NoError(t, ValidateConfig(models.StrategyRoundRobin, models.StrategyConfig{TurnTimeoutSeconds: 60}))

	assert.Error(t, ValidateConfig(models.StrategyRoundRobin, models.StrategyConfig{TurnTimeoutSeconds: 5}))
	assert.Error(t, ValidateConfig(models.StrategyRoundRobin, models.StrategyConfig{TurnTimeoutSeconds: 7200}))
	assert.Error(t, ValidateConfig(models.StrategyContextAware, models.StrategyConfig{RelevanceThreshold: 1.5}))
	assert.Error(t, ValidateConfig(models.StrategyContextAware, models.StrategyConfig{EngagementThresh: -0.1}))
	assert.Error(t, ValidateConfig(models.StrategyRoundRobin, models.StrategyConfig{CooldownSeconds: -1}))
	assert.Error(t, ValidateConfig(models.StrategyRoundRobin, models.StrategyConfig{MaxMessagesPerTurn: -1}))
	// Zero means unlimited, not invalid
	assert.NoError(t, ValidateConfig(models.StrategyRoundRobin, models.StrategyConfig{MaxMessagesPerTurn: 0}))
	assert.Error(t, ValidateConfig(models.StrategyModerated, models.StrategyConfig{}))
	assert.NoError(t, ValidateConfig(models.StrategyModerated, models.StrategyConfig{RequireApproval: true}))
}

func TestLoadPresets(t *testing.T) {
	presets, err := LoadPresets()
	require.NoError(t, err)

	rr, ok := presets[models.StrategyRoundRobin]
	require.True(t, ok)
	assert.Equal(t, 1, rr.MaxMessagesPerTurn)
	assert.Zero(t, rr.TurnTimeoutSeconds)

	mod, ok := presets[models.StrategyModerated]
	require.True(t, ok)
	assert.True(t, mod.RequireApproval)

	ctx, ok := presets[models.StrategyContextAware]
	require.True(t, ok)
	assert.InDelta(t, 0.3, ctx.RelevanceThreshold, 0.001)
	assert.InDelta(t, 0.2, ctx.EngagementThresh, 0.001)
}

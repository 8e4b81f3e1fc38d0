package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colloquy/colloquy/internal/auth"
	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
	"github.com/colloquy/colloquy/internal/discussion/orchestrator"
	"github.com/colloquy/colloquy/internal/discussion/repository"
	"github.com/colloquy/colloquy/internal/discussion/strategy"
	"github.com/colloquy/colloquy/internal/events/bus"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *orchestrator.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	cfg := &config.Config{
		Discussion: config.DiscussionConfig{
			DefaultTurnTimeout:  300,
			MaxParticipants:     10,
			CommandTimeout:      1,
			TimerRetryBackoffMS: 50,
		},
	}

	eventBus := bus.NewMemoryEventBus(log)
	orch := orchestrator.New(repository.NewMemoryRepository(), strategy.NewEngine(log), eventBus, cfg, log)
	t.Cleanup(orch.Shutdown)

	validator := auth.NewStaticValidator(map[string]auth.Identity{
		"valid-token": {UserID: "user-1", SecurityLevel: 2},
	})

	router := gin.New()
	SetupRoutes(router.Group("/api/v1"), orch, validator, log)
	return router, orch
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer valid-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func createDiscussionHTTP(t *testing.T, router *gin.Engine) *models.Discussion {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/api/v1/discussions", CreateDiscussionRequest{
		Title:        "Planning sync",
		Topic:        "release planning",
		TurnStrategy: string(models.StrategyRoundRobin),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var d models.Discussion
	decodeBody(t, w, &d)
	return &d
}

func addParticipantHTTP(t *testing.T, router *gin.Engine, discussionID, userID string) *models.Participant {
	t.Helper()
	w := doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+discussionID+"/participants",
		AddParticipantRequest{UserID: userID})
	require.Equal(t, http.StatusCreated, w.Code)

	var p models.Participant
	decodeBody(t, w, &p)
	return &p
}

func TestCreateDiscussionEndpoint(t *testing.T) {
	router, _ := setupTestRouter(t)

	d := createDiscussionHTTP(t, router)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "Planning sync", d.Title)
	assert.Equal(t, models.StatusDraft, d.Status)
	assert.Equal(t, "user-1", d.CreatedBy)
}

func TestCreateDiscussionRequiresTitle(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/discussions", map[string]string{"topic": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequiresAuthentication(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/discussions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetDiscussionNotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/discussions/missing-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiscussionLifecycleOverHTTP(t *testing.T) {
	router, _ := setupTestRouter(t)

	d := createDiscussionHTTP(t, router)
	p1 := addParticipantHTTP(t, router, d.ID, "alice")
	addParticipantHTTP(t, router, d.ID, "bob")

	// Start
	w := doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var started models.Discussion
	decodeBody(t, w, &started)
	assert.Equal(t, models.StatusActive, started.Status)
	require.NotNil(t, started.State.CurrentTurn)
	require.NotNil(t, started.State.CurrentTurn.ParticipantID)
	assert.Equal(t, p1.ID, *started.State.CurrentTurn.ParticipantID)

	// Send a message as the current speaker
	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/messages", SendMessageRequest{
		ParticipantID: p1.ID,
		Content:       "kicking things off",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var msg models.Message
	decodeBody(t, w, &msg)
	assert.Equal(t, "kicking things off", msg.Content)

	// List messages
	w = doRequest(t, router, http.MethodGet, "/api/v1/discussions/"+d.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Messages []*models.Message `json:"messages"`
	}
	decodeBody(t, w, &listing)
	require.Len(t, listing.Messages, 1)

	// React to the message
	w = doRequest(t, router, http.MethodPost,
		"/api/v1/discussions/"+d.ID+"/messages/"+msg.ID+"/reactions",
		AddReactionRequest{ParticipantID: p1.ID, Emoji: "👍"})
	require.Equal(t, http.StatusCreated, w.Code)

	// End the turn
	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/turn/end",
		TurnActionRequest{ParticipantID: p1.ID})
	require.Equal(t, http.StatusOK, w.Code)
	var resolution models.TurnResolution
	decodeBody(t, w, &resolution)
	assert.Equal(t, 2, resolution.TurnNumber)

	// Pause, resume, end
	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/pause",
		LifecycleRequest{Reason: "break"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/end",
		LifecycleRequest{Reason: "done"})
	require.Equal(t, http.StatusOK, w.Code)
	var ended models.Discussion
	decodeBody(t, w, &ended)
	assert.Equal(t, models.StatusCompleted, ended.Status)

	// Archive
	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSendMessageOutOfTurnRejected(t *testing.T) {
	router, _ := setupTestRouter(t)

	d := createDiscussionHTTP(t, router)
	addParticipantHTTP(t, router, d.ID, "alice")
	p2 := addParticipantHTTP(t, router, d.ID, "bob")

	w := doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Second joiner does not hold the first turn
	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/messages", SendMessageRequest{
		ParticipantID: p2.ID,
		Content:       "out of turn",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRemoveParticipantEndpoint(t *testing.T) {
	router, orch := setupTestRouter(t)

	d := createDiscussionHTTP(t, router)
	addParticipantHTTP(t, router, d.ID, "alice")
	p2 := addParticipantHTTP(t, router, d.ID, "bob")

	w := doRequest(t, router, http.MethodDelete,
		"/api/v1/discussions/"+d.ID+"/participants/"+p2.ID, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	got, err := orch.GetDiscussion(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Len(t, got.ActiveParticipants(), 1)
}

func TestModeratorEndpointsRequireModerator(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/discussions", CreateDiscussionRequest{
		Title:        "Moderated session",
		TurnStrategy: string(models.StrategyModerated),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var d models.Discussion
	decodeBody(t, w, &d)

	p1 := addParticipantHTTP(t, router, d.ID, "alice")
	p2 := addParticipantHTTP(t, router, d.ID, "bob")

	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Neither participant is a moderator
	w = doRequest(t, router, http.MethodPost, "/api/v1/discussions/"+d.ID+"/turn/select",
		SelectParticipantRequest{ModeratorID: p1.ID, ParticipantID: p2.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

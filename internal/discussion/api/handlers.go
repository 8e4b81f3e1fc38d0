package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
	"github.com/colloquy/colloquy/internal/discussion/orchestrator"
	"github.com/colloquy/colloquy/internal/discussion/repository"
)

// Handler contains the HTTP handlers for the discussion API.
type Handler struct {
	orch   *orchestrator.Orchestrator
	logger *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *Handler {
	return &Handler{
		orch:   orch,
		logger: log,
	}
}

// respondError writes a classified error at its HTTP status.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("internal error", err)
	}
	c.JSON(appErr.HTTPStatus, appErr)
}

func bindError(c *gin.Context, err error) {
	appErr := apperrors.ValidationError("body", err.Error())
	c.JSON(appErr.HTTPStatus, appErr)
}

// Discussion lifecycle endpoints

// CreateDiscussion creates a new draft discussion
// POST /api/v1/discussions
func (h *Handler) CreateDiscussion(c *gin.Context) {
	var req CreateDiscussionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	d, err := h.orch.CreateDiscussion(c.Request.Context(), orchestrator.CreateDiscussionRequest{
		Title:        req.Title,
		Topic:        req.Topic,
		TurnStrategy: models.StrategyType(req.TurnStrategy),
		Settings:     req.Settings,
		Metadata:     req.Metadata,
	}, actorID(c))
	if err != nil {
		h.logger.Error("Failed to create discussion", zap.Error(err))
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, d)
}

// ListDiscussions returns all discussions
// GET /api/v1/discussions
func (h *Handler) ListDiscussions(c *gin.Context) {
	discussions, err := h.orch.ListDiscussions(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discussions": discussions})
}

// GetDiscussion returns one discussion with its participants
// GET /api/v1/discussions/:discussionId
func (h *Handler) GetDiscussion(c *gin.Context) {
	d, err := h.orch.GetDiscussion(c.Request.Context(), c.Param("discussionId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// StartDiscussion activates a draft discussion and assigns the first turn
// POST /api/v1/discussions/:discussionId/start
func (h *Handler) StartDiscussion(c *gin.Context) {
	d, err := h.orch.StartDiscussion(c.Request.Context(), c.Param("discussionId"), actorID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// PauseDiscussion freezes turn progression
// POST /api/v1/discussions/:discussionId/pause
func (h *Handler) PauseDiscussion(c *gin.Context) {
	var req LifecycleRequest
	_ = c.ShouldBindJSON(&req)

	d, err := h.orch.PauseDiscussion(c.Request.Context(), c.Param("discussionId"), actorID(c), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ResumeDiscussion re-arms the interrupted turn
// POST /api/v1/discussions/:discussionId/resume
func (h *Handler) ResumeDiscussion(c *gin.Context) {
	d, err := h.orch.ResumeDiscussion(c.Request.Context(), c.Param("discussionId"), actorID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// EndDiscussion completes a discussion
// POST /api/v1/discussions/:discussionId/end
func (h *Handler) EndDiscussion(c *gin.Context) {
	var req LifecycleRequest
	_ = c.ShouldBindJSON(&req)

	d, err := h.orch.EndDiscussion(c.Request.Context(), c.Param("discussionId"), actorID(c), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// CancelDiscussion aborts a discussion
// POST /api/v1/discussions/:discussionId/cancel
func (h *Handler) CancelDiscussion(c *gin.Context) {
	var req LifecycleRequest
	_ = c.ShouldBindJSON(&req)

	d, err := h.orch.CancelDiscussion(c.Request.Context(), c.Param("discussionId"), actorID(c), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ArchiveDiscussion archives a completed or cancelled discussion
// POST /api/v1/discussions/:discussionId/archive
func (h *Handler) ArchiveDiscussion(c *gin.Context) {
	d, err := h.orch.ArchiveDiscussion(c.Request.Context(), c.Param("discussionId"), actorID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Participant endpoints

// AddParticipant adds or reactivates a participant
// POST /api/v1/discussions/:discussionId/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	var req AddParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	permissions := make([]models.Permission, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		permissions = append(permissions, models.Permission(p))
	}

	participant, err := h.orch.AddParticipant(c.Request.Context(), c.Param("discussionId"), orchestrator.ParticipantSpec{
		UserID:      req.UserID,
		AgentID:     req.AgentID,
		PersonaID:   req.PersonaID,
		Role:        models.Role(req.Role),
		Permissions: permissions,
		Expertise:   req.Expertise,
	}, actorID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, participant)
}

// RemoveParticipant deactivates a participant
// DELETE /api/v1/discussions/:discussionId/participants/:participantId
func (h *Handler) RemoveParticipant(c *gin.Context) {
	err := h.orch.RemoveParticipant(c.Request.Context(), c.Param("discussionId"), c.Param("participantId"), actorID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Message and turn endpoints

// ListMessages returns messages for a discussion
// GET /api/v1/discussions/:discussionId/messages
func (h *Handler) ListMessages(c *gin.Context) {
	opts := repository.ListMessagesOptions{
		Before: c.Query("before"),
		Sort:   c.Query("sort"),
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			bindError(c, errors.New("limit must be a non-negative integer"))
			return
		}
		opts.Limit = n
	}

	messages, err := h.orch.ListMessages(c.Request.Context(), c.Param("discussionId"), opts)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendMessage posts a message under the turn policy
// POST /api/v1/discussions/:discussionId/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	messageType := models.MessageTypeText
	if req.MessageType != "" {
		messageType = models.MessageType(req.MessageType)
	}

	msg, err := h.orch.SendMessage(c.Request.Context(), c.Param("discussionId"), req.ParticipantID, req.Content, messageType)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// RequestTurn asks for the floor
// POST /api/v1/discussions/:discussionId/turn/request
func (h *Handler) RequestTurn(c *gin.Context) {
	var req TurnActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	result, err := h.orch.RequestTurn(c.Request.Context(), c.Param("discussionId"), req.ParticipantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// EndTurn yields the floor
// POST /api/v1/discussions/:discussionId/turn/end
func (h *Handler) EndTurn(c *gin.Context) {
	var req TurnActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resolution, err := h.orch.EndTurn(c.Request.Context(), c.Param("discussionId"), req.ParticipantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolution)
}

// SelectNextParticipant lets a moderator choose the next speaker
// POST /api/v1/discussions/:discussionId/turn/select
func (h *Handler) SelectNextParticipant(c *gin.Context) {
	var req SelectParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	err := h.orch.SelectNextParticipant(c.Request.Context(), c.Param("discussionId"), req.ModeratorID, req.ParticipantID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": req.ParticipantID})
}

// ModeratorAdvanceTurn lets a moderator force turn advancement
// POST /api/v1/discussions/:discussionId/turn/advance
func (h *Handler) ModeratorAdvanceTurn(c *gin.Context) {
	var req ModeratorActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	resolution, err := h.orch.ModeratorAdvanceTurn(c.Request.Context(), c.Param("discussionId"), req.ModeratorID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolution)
}

// AddReaction reacts to a message
// POST /api/v1/discussions/:discussionId/messages/:messageId/reactions
func (h *Handler) AddReaction(c *gin.Context) {
	var req AddReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	reaction, err := h.orch.AddReaction(c.Request.Context(), c.Param("discussionId"), c.Param("messageId"), req.ParticipantID, req.Emoji)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reaction)
}

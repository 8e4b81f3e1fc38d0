package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/auth"
	"github.com/colloquy/colloquy/internal/common/config"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/session"
	"github.com/colloquy/colloquy/pkg/wsproto"
)

const accessVerifyTimeout = 10 * time.Second

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, validate origin
		return true
	},
}

// Handler upgrades HTTP requests to discussion sockets.
type Handler struct {
	hub       *Hub
	service   DiscussionService
	validator auth.TokenValidator
	store     session.Store
	cfg       config.WebSocketConfig
	logger    *logger.Logger
}

// NewHandler creates a connection handler.
func NewHandler(hub *Hub, service DiscussionService, validator auth.TokenValidator, store session.Store, cfg config.WebSocketConfig, log *logger.Logger) *Handler {
	return &Handler{
		hub:       hub,
		service:   service,
		validator: validator,
		store:     store,
		cfg:       cfg,
		logger:    log.WithFields(zap.String("component", "ws_handler")),
	}
}

// HandleConnection upgrades the request and runs the connection lifecycle:
// authenticate, enforce the per-user cap, register the session, confirm
// establishment, then verify discussion access asynchronously.
func (h *Handler) HandleConnection(c *gin.Context) {
	discussionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	if _, err := uuid.Parse(discussionID); err != nil {
		h.rejectConn(conn, wsproto.ReasonInvalidDiscussionID)
		return
	}

	identity, err := h.validator.Validate(c.Request.Context(), bearerToken(c))
	if err != nil {
		h.rejectConn(conn, wsproto.ReasonAuthFailed)
		return
	}

	count, err := h.store.CountByUser(c.Request.Context(), identity.UserID)
	if err != nil {
		h.logger.Error("Failed to count user sessions", zap.Error(err))
		h.rejectConn(conn, wsproto.ReasonAuthFailed)
		return
	}
	if count >= h.cfg.MaxConnectionsPerUser {
		h.logger.Warn("Connection cap reached",
			zap.String("user_id", identity.UserID), zap.Int("connections", count))
		h.rejectConn(conn, wsproto.ReasonTooManyConnections)
		return
	}

	connectionID := uuid.New().String()
	now := time.Now().UTC()
	sess := &session.Session{
		ConnectionID:  connectionID,
		DiscussionID:  discussionID,
		UserID:        identity.UserID,
		Authenticated: true,
		SecurityLevel: identity.SecurityLevel,
		LastActivity:  now,
		IsAlive:       true,
		CreatedAt:     now,
	}
	if err := h.store.Register(c.Request.Context(), sess, h.cfg.SessionTTL()); err != nil {
		h.logger.Error("Failed to register session", zap.Error(err))
		h.rejectConn(conn, "Internal error")
		return
	}

	client := NewClient(connectionID, discussionID, identity.UserID, identity.SecurityLevel, conn, h.hub, h.logger)
	h.hub.Register(client)

	established, err := wsproto.NewConnectionEstablished(wsproto.ConnectionEstablishedData{
		DiscussionID:  discussionID,
		ConnectionID:  connectionID,
		SecurityLevel: identity.SecurityLevel,
		RateLimits: wsproto.RateLimits{
			MessagesPerMinute:     h.cfg.MessagesPerMinute,
			MaxMessageSize:        h.cfg.MaxMessageSize,
			MaxConnectionsPerUser: h.cfg.MaxConnectionsPerUser,
		},
		Timestamp: now,
	})
	if err == nil {
		client.SendFrame(established)
	}

	go h.verifyAccess(client, identity.UserID)

	go client.WritePump()
	client.ReadPump(context.Background())
}

// verifyAccess checks discussion membership off the connect path. A failure
// closes the socket; until it succeeds the router rejects domain frames.
func (h *Handler) verifyAccess(client *Client, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), accessVerifyTimeout)
	defer cancel()

	ok, participantID, err := h.service.VerifyParticipantAccess(ctx, client.DiscussionID, userID)
	if err != nil || !ok {
		if err != nil {
			h.logger.Warn("Access verification failed",
				zap.String("discussion_id", client.DiscussionID),
				zap.String("user_id", userID), zap.Error(err))
		}
		client.Close(wsproto.ClosePolicyViolation, wsproto.ReasonAccessDenied)
		h.hub.Unregister(client)
		return
	}

	client.SetParticipantID(participantID)
	if sess, err := h.store.Get(ctx, client.ConnectionID); err == nil {
		sess.ParticipantID = participantID
		if err := h.store.Register(ctx, sess, h.cfg.SessionTTL()); err != nil {
			h.logger.Debug("Failed to persist participant id", zap.Error(err))
		}
	}

	if frame, err := wsproto.NewAccessVerified(client.DiscussionID, participantID); err == nil {
		client.SendFrame(frame)
	}
}

// rejectConn closes a just-upgraded socket with a policy violation frame.
func (h *Handler) rejectConn(conn *gorillaws.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = conn.WriteControl(gorillaws.CloseMessage,
		gorillaws.FormatCloseMessage(wsproto.ClosePolicyViolation, reason), deadline)
	_ = conn.Close()
}

// bearerToken pulls the auth token from the query string or the
// Authorization header.
func bearerToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	header := c.GetHeader("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}

// Package websocket implements the session fan-out layer: one hub per
// process tracking live sockets grouped by discussion, with delivery of
// discussion events to every socket attached to that discussion.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/common/config"
	apperrors "github.com/colloquy/colloquy/internal/common/errors"
	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/internal/discussion/models"
	"github.com/colloquy/colloquy/internal/session"
	"github.com/colloquy/colloquy/pkg/wsproto"
)

const reconcileInterval = 60 * time.Second

// Hub maintains the set of live clients and fans discussion events out to
// the sockets attached to each discussion.
type Hub struct {
	cfg    config.WebSocketConfig
	store  session.Store
	router *wsproto.Dispatcher
	logger *logger.Logger

	mu           sync.RWMutex
	clients      map[*Client]bool
	byDiscussion map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastEnvelope

	done chan struct{}
	once sync.Once
}

type broadcastEnvelope struct {
	discussionID string
	payload      []byte
}

// NewHub creates a hub backed by the given session store.
func NewHub(cfg config.WebSocketConfig, store session.Store, router *wsproto.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		cfg:          cfg,
		store:        store,
		router:       router,
		logger:       log,
		clients:      make(map[*Client]bool),
		byDiscussion: make(map[string]map[*Client]bool),
		register:     make(chan *Client, 16),
		unregister:   make(chan *Client, 16),
		broadcast:    make(chan *broadcastEnvelope, 256),
		done:         make(chan struct{}),
	}
}

// Run processes registration, broadcast and heartbeat work until the context
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(h.cfg.HeartbeatIntervalDuration())
	defer heartbeat.Stop()
	reconcile := time.NewTicker(reconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case env := <-h.broadcast:
			h.deliver(env)
		case <-heartbeat.C:
			h.sweepStale()
		case <-reconcile.C:
			h.reconcileSessions(ctx)
		}
	}
}

// Register attaches a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister detaches a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToDiscussion delivers a domain event to every socket attached to
// the discussion. Implements the orchestrator's Broadcaster interface.
func (h *Hub) BroadcastToDiscussion(discussionID string, event *models.DiscussionEvent) {
	frame, err := wsproto.NewDiscussionEvent(event)
	if err != nil {
		h.logger.Error("Failed to encode discussion event", zap.Error(err))
		return
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to encode discussion event frame", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- &broadcastEnvelope{discussionID: discussionID, payload: payload}:
	case <-h.done:
	default:
		h.logger.Warn("Broadcast queue full, event dropped",
			zap.String("discussion_id", discussionID),
			zap.String("event_type", string(event.Type)))
	}
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DiscussionClientCount returns the number of sockets attached to one discussion.
func (h *Hub) DiscussionClientCount(discussionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byDiscussion[discussionID])
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	set, ok := h.byDiscussion[client.DiscussionID]
	if !ok {
		set = make(map[*Client]bool)
		h.byDiscussion[client.DiscussionID] = set
	}
	set[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("Client registered",
		zap.String("connection_id", client.ConnectionID),
		zap.String("discussion_id", client.DiscussionID),
		zap.Int("total_clients", total))
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	if set, ok := h.byDiscussion[client.DiscussionID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byDiscussion, client.DiscussionID)
		}
	}
	h.mu.Unlock()
	client.closeSend()

	if err := h.store.Remove(context.Background(), client.ConnectionID); err != nil {
		h.logger.Warn("Failed to remove session",
			zap.String("connection_id", client.ConnectionID), zap.Error(err))
	}
	h.logger.Debug("Client unregistered",
		zap.String("connection_id", client.ConnectionID),
		zap.String("discussion_id", client.DiscussionID))
}

func (h *Hub) deliver(env *broadcastEnvelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byDiscussion[env.discussionID]))
	for client := range h.byDiscussion[env.discussionID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.sendRaw(env.payload)
	}
}

// sweepStale pings sockets whose last pong is older than the stale window and
// closes those that already had a ping outstanding.
func (h *Hub) sweepStale() {
	staleAfter := h.cfg.StaleAfterDuration()
	now := time.Now()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		lastPong, pingPending := client.heartbeatState()
		if now.Sub(lastPong) < staleAfter {
			continue
		}
		if pingPending {
			h.logger.Info("Closing stale connection",
				zap.String("connection_id", client.ConnectionID),
				zap.Duration("silent_for", now.Sub(lastPong)))
			client.Close(wsproto.CloseGoingAway, "Connection stale")
			continue
		}
		if err := client.ping(); err != nil {
			client.Close(wsproto.CloseGoingAway, "Connection stale")
			continue
		}
		if err := h.store.Touch(context.Background(), client.ConnectionID, h.cfg.SessionTTL()); err != nil {
			h.logger.Debug("Session touch failed",
				zap.String("connection_id", client.ConnectionID), zap.Error(err))
		}
	}
}

// reconcileSessions compares hub membership against the session store.
// Sockets whose session vanished are closed; live sockets get their session
// TTL refreshed.
func (h *Hub) reconcileSessions(ctx context.Context) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		_, err := h.store.Get(ctx, client.ConnectionID)
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			h.logger.Warn("Socket without backing session, closing",
				zap.String("connection_id", client.ConnectionID),
				zap.String("discussion_id", client.DiscussionID))
			client.Close(wsproto.CloseInternalError, "Session expired")
			continue
		}
		if err != nil {
			h.logger.Debug("Session lookup failed during reconcile", zap.Error(err))
			continue
		}
		if err := h.store.Touch(ctx, client.ConnectionID, h.cfg.SessionTTL()); err != nil {
			h.logger.Debug("Session touch failed during reconcile", zap.Error(err))
		}
	}
}

// shutdown closes every socket with a going-away frame and drops sessions.
func (h *Hub) shutdown() {
	h.once.Do(func() { close(h.done) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.byDiscussion = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close(wsproto.CloseGoingAway, wsproto.ReasonServerShutdown)
		client.closeSend()
		if err := h.store.Remove(context.Background(), client.ConnectionID); err != nil {
			h.logger.Debug("Failed to remove session on shutdown", zap.Error(err))
		}
	}
	h.logger.Info("Hub shut down", zap.Int("closed_clients", len(clients)))
}

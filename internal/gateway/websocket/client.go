package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/colloquy/colloquy/internal/common/logger"
	"github.com/colloquy/colloquy/pkg/wsproto"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Outbound buffer per client
	sendBufferSize = 256
)

// Client represents a single socket bound to one discussion.
type Client struct {
	ConnectionID  string
	DiscussionID  string
	UserID        string
	SecurityLevel int

	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *logger.Logger

	mu            sync.Mutex
	participantID string
	lastPong      time.Time
	pingPending   bool
	frameWindow   time.Time
	frameCount    int
	rateWarned    bool
	sizeWarned    bool
	closed        bool
	sendClosed    bool
}

// NewClient creates a client for an upgraded connection.
func NewClient(connectionID, discussionID, userID string, securityLevel int, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ConnectionID:  connectionID,
		DiscussionID:  discussionID,
		UserID:        userID,
		SecurityLevel: securityLevel,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBufferSize),
		logger: log.WithFields(
			zap.String("connection_id", connectionID),
			zap.String("discussion_id", discussionID)),
		lastPong:    time.Now(),
		frameWindow: time.Now(),
	}
}

// SetParticipantID records the participant resolved by access verification.
func (c *Client) SetParticipantID(id string) {
	c.mu.Lock()
	c.participantID = id
	c.mu.Unlock()
}

// ParticipantID returns the verified participant id, or "".
func (c *Client) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID
}

// ReadPump pumps frames from the connection into the hub's router.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	// The configured cap is enforced per frame below; the transport limit
	// is a backstop against grossly oversized payloads.
	c.conn.SetReadLimit(2 * int64(c.hub.cfg.MaxMessageSize))
	// Leave room for the hub's staleness sweep to ping before the deadline.
	pongWait := c.hub.cfg.StaleAfterDuration() + 2*c.hub.cfg.HeartbeatIntervalDuration()
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.markPong()
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err == nil {
			err = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Socket read error", zap.Error(err))
			}
			return
		}

		if !c.admitFrame() {
			return
		}
		if len(raw) > c.hub.cfg.MaxMessageSize {
			if !c.admitSize(len(raw)) {
				return
			}
			continue
		}

		var frame wsproto.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Debug("Malformed frame dropped", zap.Error(err))
			c.sendFrame(wsproto.NewError("Invalid frame format"))
			continue
		}
		c.handleFrame(ctx, &frame)
	}
}

// admitFrame enforces the rolling per-minute frame cap. The first violation
// gets an error frame; a repeat closes the socket.
func (c *Client) admitFrame() bool {
	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.frameWindow) >= time.Minute {
		c.frameWindow = now
		c.frameCount = 0
		c.rateWarned = false
	}
	c.frameCount++
	over := c.frameCount > c.hub.cfg.MessagesPerMinute
	warned := c.rateWarned
	if over {
		c.rateWarned = true
	}
	c.mu.Unlock()

	if !over {
		return true
	}
	if !warned {
		c.logger.Warn("Rate limit exceeded", zap.String("user_id", c.UserID))
		c.sendFrame(wsproto.NewError(wsproto.ReasonRateLimitAbuse))
		return true
	}
	c.Close(wsproto.ClosePolicyViolation, wsproto.ReasonRateLimitAbuse)
	return false
}

// admitSize enforces the per-frame byte cap. The first oversized frame is
// dropped with an error frame; a repeat closes the socket.
func (c *Client) admitSize(n int) bool {
	c.mu.Lock()
	warned := c.sizeWarned
	c.sizeWarned = true
	c.mu.Unlock()

	if !warned {
		c.logger.Warn("Oversized frame dropped",
			zap.Int("bytes", n),
			zap.Int("limit", c.hub.cfg.MaxMessageSize))
		c.sendFrame(wsproto.NewError(wsproto.ReasonFrameTooLarge))
		return true
	}
	c.Close(wsproto.ClosePolicyViolation, wsproto.ReasonFrameTooLarge)
	return false
}

// handleFrame answers pings locally and routes everything else through the
// hub's router. Unknown frame types are logged and dropped.
func (c *Client) handleFrame(ctx context.Context, frame *wsproto.Frame) {
	if frame.Type == wsproto.FramePing {
		c.markPong()
		if pong, err := wsproto.NewPong(); err == nil {
			pong.MessageID = frame.MessageID
			c.SendFrame(pong)
		}
		return
	}

	info := &ConnInfo{
		ConnectionID:  c.ConnectionID,
		DiscussionID:  c.DiscussionID,
		UserID:        c.UserID,
		ParticipantID: c.ParticipantID(),
	}
	response, handled, err := c.hub.router.Dispatch(WithConnInfo(ctx, info), frame)
	if !handled {
		c.logger.Debug("Unknown frame type dropped", zap.String("type", frame.Type))
		return
	}
	if err != nil {
		errFrame := wsproto.NewError(err.Error())
		errFrame.MessageID = frame.MessageID
		c.SendFrame(errFrame)
		return
	}
	if response != nil {
		response.MessageID = frame.MessageID
		c.SendFrame(response)
	}
}

// SendFrame queues a frame for delivery to this socket.
func (c *Client) SendFrame(frame *wsproto.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("Failed to encode frame", zap.Error(err))
		return
	}
	c.sendRaw(data)
}

func (c *Client) sendFrame(frame *wsproto.Frame) {
	c.SendFrame(frame)
}

func (c *Client) sendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full")
	}
}

// closeSend shuts the outbound queue down, letting the write pump finish.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// Close writes a close control frame and shuts the connection down.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.conn.Close()
}

func (c *Client) markPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.pingPending = false
	c.mu.Unlock()
}

// heartbeatState reports the last pong time and whether a ping is already
// outstanding. Used by the hub's staleness sweep.
func (c *Client) heartbeatState() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong, c.pingPending
}

// ping sends a ping control frame and marks it outstanding.
func (c *Client) ping() error {
	c.mu.Lock()
	c.pingPending = true
	c.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

// WritePump pumps queued frames to the connection.
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		// Batch additional queued frames
		n := len(c.send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.send)
		}
		if err := w.Close(); err != nil {
			return
		}
	}

	// Hub closed the channel.
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(wsproto.CloseGoingAway, wsproto.ReasonServerShutdown))
}

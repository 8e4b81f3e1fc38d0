// Package wsproto defines the client-socket frame protocol and its dispatch
// helpers.
package wsproto

import (
	"encoding/json"
	"time"
)

// Frame is the envelope for every inbound and outbound socket message.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
}

// NewFrame creates a frame with an encoded payload.
func NewFrame(frameType string, data interface{}) (*Frame, error) {
	if data == nil {
		return &Frame{Type: frameType}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{Type: frameType, Data: raw}, nil
}

// ParseData decodes the frame payload into the given value.
func (f *Frame) ParseData(v interface{}) error {
	if f.Data == nil {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// RateLimits is the policy advertised on connection establishment.
type RateLimits struct {
	MessagesPerMinute     int `json:"messagesPerMinute"`
	MaxMessageSize        int `json:"maxMessageSize"`
	MaxConnectionsPerUser int `json:"maxConnectionsPerUser"`
}

// ConnectionEstablishedData is the payload of the connection.established frame.
type ConnectionEstablishedData struct {
	DiscussionID  string     `json:"discussionId"`
	ConnectionID  string     `json:"connectionId"`
	SecurityLevel int        `json:"securityLevel"`
	RateLimits    RateLimits `json:"rateLimits"`
	Timestamp     time.Time  `json:"timestamp"`
}

// AccessVerifiedData is the payload of the access.verified frame.
type AccessVerifiedData struct {
	DiscussionID  string `json:"discussionId"`
	ParticipantID string `json:"participantId"`
}

// PongData is the payload of the pong frame.
type PongData struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorData is the payload of the error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// NewConnectionEstablished builds the frame sent right after registration.
func NewConnectionEstablished(data ConnectionEstablishedData) (*Frame, error) {
	return NewFrame(FrameConnectionEstablished, data)
}

// NewAccessVerified builds the frame sent once participant access checks out.
func NewAccessVerified(discussionID, participantID string) (*Frame, error) {
	return NewFrame(FrameAccessVerified, AccessVerifiedData{
		DiscussionID:  discussionID,
		ParticipantID: participantID,
	})
}

// NewDiscussionEvent wraps a domain event for broadcast.
func NewDiscussionEvent(event interface{}) (*Frame, error) {
	return NewFrame(FrameDiscussionEvent, event)
}

// NewPong answers a ping with the server timestamp.
func NewPong() (*Frame, error) {
	return NewFrame(FramePong, PongData{Timestamp: time.Now().UTC()})
}

// NewError builds an error frame. Encoding a plain string cannot fail.
func NewError(message string) *Frame {
	raw, _ := json.Marshal(ErrorData{Message: message})
	return &Frame{Type: FrameError, Data: raw}
}

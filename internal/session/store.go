// Package session tracks live fan-out connections across process instances.
// The store is the cross-process source of truth for per-user connection
// caps; the gateway's in-memory socket sets are a process-local optimization.
package session

import (
	"context"
	"time"
)

// Session describes one live, authenticated socket bound to a discussion.
type Session struct {
	ConnectionID     string    `json:"connection_id"`
	DiscussionID     string    `json:"discussion_id"`
	UserID           string    `json:"user_id"`
	ParticipantID    string    `json:"participant_id,omitempty"`
	Authenticated    bool      `json:"authenticated"`
	SecurityLevel    int       `json:"security_level"`
	MessageCount     int       `json:"message_count"`
	LastActivity     time.Time `json:"last_activity"`
	RateLimitResetAt time.Time `json:"rate_limit_reset_at"`
	IsAlive          bool      `json:"is_alive"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store persists sessions with TTL-based eviction and per-user counting.
type Store interface {
	// Register stores a session with the given TTL.
	Register(ctx context.Context, s *Session, ttl time.Duration) error

	// Get returns the session for a connection id.
	Get(ctx context.Context, connectionID string) (*Session, error)

	// Touch refreshes a session's TTL and last-activity timestamp.
	Touch(ctx context.Context, connectionID string, ttl time.Duration) error

	// Remove deletes a session.
	Remove(ctx context.Context, connectionID string) error

	// CountByUser returns the number of live sessions for a user.
	CountByUser(ctx context.Context, userID string) (int, error)

	// ListByDiscussion returns the live sessions bound to a discussion.
	ListByDiscussion(ctx context.Context, discussionID string) ([]*Session, error)

	Close() error
}

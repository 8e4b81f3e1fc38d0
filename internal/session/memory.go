package session

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
)

// MemoryStore is a single-process session store. Expired entries are dropped
// lazily on read and by a periodic janitor.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	stop     chan struct{}
	stopOnce sync.Once
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory session store with a background janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		stop:     make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) evictExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, id)
		}
	}
}

// Register stores a session with the given TTL.
func (s *MemoryStore) Register(ctx context.Context, sess *Session, ttl time.Duration) error {
	clone := *sess
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ConnectionID] = &memoryEntry{
		session:   &clone,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Get returns the session for a connection id.
func (s *MemoryStore) Get(ctx context.Context, connectionID string) (*Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[connectionID]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, apperrors.NotFound("session", connectionID)
	}
	clone := *entry.session
	return &clone, nil
}

// Touch refreshes a session's TTL and last-activity timestamp.
func (s *MemoryStore) Touch(ctx context.Context, connectionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[connectionID]
	if !ok || time.Now().After(entry.expiresAt) {
		return apperrors.NotFound("session", connectionID)
	}
	entry.session.LastActivity = time.Now().UTC()
	entry.expiresAt = time.Now().Add(ttl)
	return nil
}

// Remove deletes a session.
func (s *MemoryStore) Remove(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, connectionID)
	return nil
}

// CountByUser returns the number of live sessions for a user.
func (s *MemoryStore) CountByUser(ctx context.Context, userID string) (int, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, entry := range s.sessions {
		if entry.session.UserID == userID && now.Before(entry.expiresAt) {
			count++
		}
	}
	return count, nil
}

// ListByDiscussion returns the live sessions bound to a discussion.
func (s *MemoryStore) ListByDiscussion(ctx context.Context, discussionID string) ([]*Session, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*Session, 0)
	for _, entry := range s.sessions {
		if entry.session.DiscussionID == discussionID && now.Before(entry.expiresAt) {
			clone := *entry.session
			sessions = append(sessions, &clone)
		}
	}
	return sessions, nil
}

// Close stops the janitor and drops all sessions.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.sessions = make(map[string]*memoryEntry)
	s.mu.Unlock()
	return nil
}

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/colloquy/colloquy/internal/common/config"
	apperrors "github.com/colloquy/colloquy/internal/common/errors"
)

const (
	sessionKeyPrefix    = "colloquy:session:"
	userIndexPrefix     = "colloquy:user_sessions:"
	discussionIdxPrefix = "colloquy:discussion_sessions:"
)

// RedisStore persists sessions in Redis so connection caps hold across
// process instances. Session bodies expire via key TTL; the user and
// discussion indexes are reconciled against live keys on read.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.Transient("failed to connect to redis", err)
	}
	return &RedisStore{client: client}, nil
}

func sessionKey(connectionID string) string {
	return sessionKeyPrefix + connectionID
}

// Register stores a session with the given TTL and indexes it by user and
// discussion.
func (s *RedisStore) Register(ctx context.Context, sess *Session, ttl time.Duration) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ConnectionID), raw, ttl)
	pipe.SAdd(ctx, userIndexPrefix+sess.UserID, sess.ConnectionID)
	pipe.Expire(ctx, userIndexPrefix+sess.UserID, ttl*2)
	pipe.SAdd(ctx, discussionIdxPrefix+sess.DiscussionID, sess.ConnectionID)
	pipe.Expire(ctx, discussionIdxPrefix+sess.DiscussionID, ttl*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Transient("failed to register session", err)
	}
	return nil
}

// Get returns the session for a connection id.
func (s *RedisStore) Get(ctx context.Context, connectionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(connectionID)).Bytes()
	if err == redis.Nil {
		return nil, apperrors.NotFound("session", connectionID)
	}
	if err != nil {
		return nil, apperrors.Transient("failed to read session", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// Touch refreshes a session's TTL and last-activity timestamp.
func (s *RedisStore) Touch(ctx context.Context, connectionID string, ttl time.Duration) error {
	sess, err := s.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	sess.LastActivity = time.Now().UTC()
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(connectionID), raw, ttl).Err(); err != nil {
		return apperrors.Transient("failed to touch session", err)
	}
	return nil
}

// Remove deletes a session and its index entries.
func (s *RedisStore) Remove(ctx context.Context, connectionID string) error {
	sess, err := s.Get(ctx, connectionID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return nil
		}
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(connectionID))
	pipe.SRem(ctx, userIndexPrefix+sess.UserID, connectionID)
	pipe.SRem(ctx, discussionIdxPrefix+sess.DiscussionID, connectionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Transient("failed to remove session", err)
	}
	return nil
}

// CountByUser returns the number of live sessions for a user, pruning index
// entries whose session key has expired.
func (s *RedisStore) CountByUser(ctx context.Context, userID string) (int, error) {
	live, err := s.liveMembers(ctx, userIndexPrefix+userID)
	if err != nil {
		return 0, err
	}
	return len(live), nil
}

// ListByDiscussion returns the live sessions bound to a discussion.
func (s *RedisStore) ListByDiscussion(ctx context.Context, discussionID string) ([]*Session, error) {
	live, err := s.liveMembers(ctx, discussionIdxPrefix+discussionID)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(live))
	for _, connectionID := range live {
		sess, err := s.Get(ctx, connectionID)
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// liveMembers returns the index members whose session keys still exist and
// removes stale ones.
func (s *RedisStore) liveMembers(ctx context.Context, indexKey string) ([]string, error) {
	members, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, apperrors.Transient("failed to read session index", err)
	}

	live := make([]string, 0, len(members))
	for _, connectionID := range members {
		exists, err := s.client.Exists(ctx, sessionKey(connectionID)).Result()
		if err != nil {
			return nil, apperrors.Transient("failed to check session key", err)
		}
		if exists == 0 {
			s.client.SRem(ctx, indexKey, connectionID)
			continue
		}
		live = append(live, connectionID)
	}
	return live, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

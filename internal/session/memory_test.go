package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/colloquy/colloquy/internal/common/errors"
)

func newSession(connectionID, userID, discussionID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ConnectionID:     connectionID,
		DiscussionID:     discussionID,
		UserID:           userID,
		Authenticated:    true,
		MessageCount:     0,
		LastActivity:     now,
		RateLimitResetAt: now.Add(time.Minute),
		IsAlive:          true,
		CreatedAt:        now,
	}
}

func TestMemoryStoreRegisterAndGet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	sess := newSession("conn-1", "user-1", "disc-1")
	require.NoError(t, store.Register(ctx, sess, time.Minute))

	got, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "disc-1", got.DiscussionID)
	assert.True(t, got.Authenticated)

	_, err = store.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, newSession("conn-1", "user-1", "disc-1"), 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, err := store.Get(ctx, "conn-1")
	require.Error(t, err)

	count, err := store.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMemoryStoreTouchExtendsTTL(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, newSession("conn-1", "user-1", "disc-1"), 40*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.Touch(ctx, "conn-1", time.Minute))
	time.Sleep(40 * time.Millisecond)

	_, err := store.Get(ctx, "conn-1")
	require.NoError(t, err)
}

func TestMemoryStoreCountByUser(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"conn-1", "conn-2", "conn-3"} {
		require.NoError(t, store.Register(ctx, newSession(id, "user-1", "disc-1"), time.Minute))
	}
	require.NoError(t, store.Register(ctx, newSession("conn-4", "user-2", "disc-1"), time.Minute))

	count, err := store.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, store.Remove(ctx, "conn-2"))
	count, err = store.CountByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStoreListByDiscussion(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, newSession("conn-1", "user-1", "disc-1"), time.Minute))
	require.NoError(t, store.Register(ctx, newSession("conn-2", "user-2", "disc-1"), time.Minute))
	require.NoError(t, store.Register(ctx, newSession("conn-3", "user-3", "disc-2"), time.Minute))

	sessions, err := store.ListByDiscussion(ctx, "disc-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

package redisstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/captcha/domain"
)

func setupStore(t *testing.T) *TokenStore {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping Redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())

	prefix := fmt.Sprintf("captcha_test_%d", time.Now().UnixNano())
	store := NewTokenStore(client, prefix)

	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
		client.Close()
	})

	return store
}

func newRecord(ttl time.Duration) *domain.ChallengeToken {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.ChallengeToken{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		ClientIP:  "203.0.113.7",
		UserAgent: "integration-test",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestTokenStore_InsertFindRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := newRecord(15 * time.Minute)
	require.NoError(t, store.Insert(ctx, record))

	found, err := store.FindByToken(ctx, record.Token)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, record.CreatedAt, found.CreatedAt)
	assert.Equal(t, record.ExpiresAt, found.ExpiresAt)
	assert.False(t, found.Solved)
	assert.Nil(t, found.SolvedAt)

	assert.ErrorIs(t, store.Insert(ctx, record), domain.ErrDuplicateToken)

	_, err = store.FindByToken(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenStore_ConditionalUpdate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := newRecord(15 * time.Minute)
	require.NoError(t, store.Insert(ctx, record))

	updated, err := store.ConditionalUpdate(ctx, record.Token, false, true, &domain.ConditionalUpdateOptions{NotExpiredAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, updated.Solved)
	require.NotNil(t, updated.SolvedAt)
	assert.WithinDuration(t, time.Now(), *updated.SolvedAt, 10*time.Second)

	_, err = store.ConditionalUpdate(ctx, record.Token, false, true, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	reverted, err := store.ConditionalUpdate(ctx, record.Token, true, false, nil)
	require.NoError(t, err)
	assert.False(t, reverted.Solved)
	assert.Nil(t, reverted.SolvedAt)
}

func TestTokenStore_ConditionalUpdateRejectsExpired(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := newRecord(-time.Minute)
	require.NoError(t, store.Insert(ctx, record))

	_, err := store.ConditionalUpdate(ctx, record.Token, false, true, &domain.ConditionalUpdateOptions{NotExpiredAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenStore_DeleteAndDeleteExpired(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	record := newRecord(15 * time.Minute)
	require.NoError(t, store.Insert(ctx, record))
	require.NoError(t, store.Delete(ctx, record.Token))
	assert.ErrorIs(t, store.Delete(ctx, record.Token), domain.ErrNotFound)

	require.NoError(t, store.Insert(ctx, newRecord(-time.Minute)))
	live := newRecord(15 * time.Minute)
	require.NoError(t, store.Insert(ctx, live))

	deleted, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.FindByToken(ctx, live.Token)
	assert.NoError(t, err)
}

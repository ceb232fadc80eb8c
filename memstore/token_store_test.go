package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/captcha/domain"
)

func newRecord(token string, ttl time.Duration) *domain.ChallengeToken {
	now := time.Now().UTC()
	return &domain.ChallengeToken{
		ID:        uuid.NewString(),
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestTokenStore_InsertAndFind(t *testing.T) {
	store := NewTokenStore()
	defer store.Close()
	ctx := context.Background()

	record := newRecord("tok-1", 15*time.Minute)
	require.NoError(t, store.Insert(ctx, record))

	found, err := store.FindByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.False(t, found.Solved)
	assert.Nil(t, found.SolvedAt)

	_, err = store.FindByToken(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenStore_InsertDuplicate(t *testing.T) {
	store := NewTokenStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newRecord("tok-1", 15*time.Minute)))
	err := store.Insert(ctx, newRecord("tok-1", 15*time.Minute))
	assert.ErrorIs(t, err, domain.ErrDuplicateToken)
}

func TestTokenStore_ConditionalUpdate(t *testing.T) {
	store := NewTokenStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newRecord("tok-1", 15*time.Minute)))

	// Expectation mismatch: record is unsolved.
	_, err := store.ConditionalUpdate(ctx, "tok-1", true, false, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	updated, err := store.ConditionalUpdate(ctx, "tok-1", false, true, nil)
	require.NoError(t, err)
	assert.True(t, updated.Solved)
	require.NotNil(t, updated.SolvedAt)
	assert.WithinDuration(t, time.Now(), *updated.SolvedAt, 5*time.Second)

	// The transition happened once; a repeat loses.
	_, err = store.ConditionalUpdate(ctx, "tok-1", false, true, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Revoke direction clears the timestamp.
	reverted, err := store.ConditionalUpdate(ctx, "tok-1", true, false, nil)
	require.NoError(t, err)
	assert.False(t, reverted.Solved)
	assert.Nil(t, reverted.SolvedAt)
}

func TestTokenStore_ConditionalUpdateExpiryPredicate(t *testing.T) {
	store := NewTokenStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newRecord("expired", -time.Minute)))
	_, err := store.ConditionalUpdate(ctx, "expired", false, true, &domain.ConditionalUpdateOptions{NotExpiredAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Without the predicate the flag itself still matches.
	_, err = store.ConditionalUpdate(ctx, "expired", false, true, nil)
	assert.NoError(t, err)
}

func TestTokenStore_Delete(t *testing.T) {
	store := NewTokenStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newRecord("tok-1", 15*time.Minute)))
	require.NoError(t, store.Delete(ctx, "tok-1"))

	assert.ErrorIs(t, store.Delete(ctx, "tok-1"), domain.ErrNotFound)
	_, err := store.FindByToken(ctx, "tok-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenStore_DeleteExpired(t *testing.T) {
	store := NewTokenStore()
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newRecord("old-1", -time.Minute)))
	require.NoError(t, store.Insert(ctx, newRecord("old-2", -time.Second)))
	require.NoError(t, store.Insert(ctx, newRecord("live", 15*time.Minute)))

	deleted, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = store.FindByToken(ctx, "live")
	assert.NoError(t, err)
}

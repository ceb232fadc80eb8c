package mongodb_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/captcha/domain"
	"go.pilab.hu/captcha/mongodb"
	"go.pilab.hu/captcha/mongodb/testutil"
)

func setupRepo(t *testing.T) *mongodb.CaptchaTokenRepository {
	t.Helper()

	db, cleanup := testutil.SetupTestMongoDB(t, "captcha_repo_test")
	t.Cleanup(cleanup)

	repo, err := mongodb.NewCaptchaTokenRepository(context.Background(), db)
	require.NoError(t, err)
	return repo
}

func newRecord(ttl time.Duration) *domain.ChallengeToken {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.ChallengeToken{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		ClientIP:  "203.0.113.7",
		UserAgent: "integration-test",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestCaptchaTokenRepository_InsertAndFind(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	record := newRecord(15 * time.Minute)
	require.NoError(t, repo.Insert(ctx, record))

	found, err := repo.FindByToken(ctx, record.Token)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.Equal(t, record.ClientIP, found.ClientIP)
	assert.False(t, found.Solved)
	assert.Nil(t, found.SolvedAt)

	_, err = repo.FindByToken(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCaptchaTokenRepository_InsertDuplicate(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	record := newRecord(15 * time.Minute)
	require.NoError(t, repo.Insert(ctx, record))

	dup := newRecord(15 * time.Minute)
	dup.Token = record.Token
	assert.ErrorIs(t, repo.Insert(ctx, dup), domain.ErrDuplicateToken)
}

func TestCaptchaTokenRepository_ConditionalUpdate(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	record := newRecord(15 * time.Minute)
	require.NoError(t, repo.Insert(ctx, record))

	updated, err := repo.ConditionalUpdate(ctx, record.Token, false, true, &domain.ConditionalUpdateOptions{NotExpiredAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, updated.Solved)
	require.NotNil(t, updated.SolvedAt, "the store stamps solved_at on the transition")
	assert.WithinDuration(t, time.Now(), *updated.SolvedAt, 10*time.Second)

	// The same transition cannot apply twice.
	_, err = repo.ConditionalUpdate(ctx, record.Token, false, true, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	reverted, err := repo.ConditionalUpdate(ctx, record.Token, true, false, nil)
	require.NoError(t, err)
	assert.False(t, reverted.Solved)
	assert.Nil(t, reverted.SolvedAt)
}

func TestCaptchaTokenRepository_ConditionalUpdateRejectsExpired(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	record := newRecord(-time.Minute)
	require.NoError(t, repo.Insert(ctx, record))

	_, err := repo.ConditionalUpdate(ctx, record.Token, false, true, &domain.ConditionalUpdateOptions{NotExpiredAt: time.Now().UTC()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCaptchaTokenRepository_Delete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	record := newRecord(15 * time.Minute)
	require.NoError(t, repo.Insert(ctx, record))

	require.NoError(t, repo.Delete(ctx, record.Token))
	assert.ErrorIs(t, repo.Delete(ctx, record.Token), domain.ErrNotFound)
}

func TestCaptchaTokenRepository_DeleteExpired(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newRecord(-time.Minute)))
	require.NoError(t, repo.Insert(ctx, newRecord(-time.Second)))
	live := newRecord(15 * time.Minute)
	require.NoError(t, repo.Insert(ctx, live))

	deleted, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = repo.FindByToken(ctx, live.Token)
	assert.NoError(t, err)
}

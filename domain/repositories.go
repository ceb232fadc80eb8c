package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateToken is returned by Insert when the generated token value
// collides with an existing record. The service retries generation on this
// error and only on this error.
var ErrDuplicateToken = errors.New("challenge token already exists")

// ErrNotFound is returned by FindByToken when no record matches.
var ErrNotFound = errors.New("challenge token not found")

// ConditionalUpdateOptions narrows the predicate of a conditional update
// beyond the solved flag.
type ConditionalUpdateOptions struct {
	// NotExpiredAt, when non-zero, additionally requires
	// expires_at > NotExpiredAt for the update to match.
	NotExpiredAt time.Time
}

// CaptchaTokenRepository is the store adapter for challenge tokens. The
// backing engine must provide atomic conditional updates and a uniqueness
// constraint on the token value; every at-most-once guarantee in the
// service rests on ConditionalUpdate being a single atomic operation.
type CaptchaTokenRepository interface {
	// Insert persists a new record. A token value collision is reported
	// as ErrDuplicateToken.
	Insert(ctx context.Context, token *ChallengeToken) error

	// FindByToken loads a record by its token value, or ErrNotFound.
	FindByToken(ctx context.Context, token string) (*ChallengeToken, error)

	// ConditionalUpdate flips the solved flag from expectedSolved to
	// newSolved in one atomic operation, stamping or clearing solved_at
	// store-side. It returns the updated record, or ErrNotFound when the
	// predicate matched no row (absent, already flipped, or expired when
	// opts narrows on expiry). A zero-row outcome is how concurrent
	// solvers lose the race.
	ConditionalUpdate(ctx context.Context, token string, expectedSolved, newSolved bool, opts *ConditionalUpdateOptions) (*ChallengeToken, error)

	// Delete removes a record by token value. ErrNotFound when absent.
	Delete(ctx context.Context, token string) error

	// DeleteExpired removes every record whose expiry has passed and
	// reports how many were removed.
	DeleteExpired(ctx context.Context) (int64, error)
}

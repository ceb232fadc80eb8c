// Package captcha implements the challenge-token lifecycle: issuance,
// existence and status queries, the guarded solve transition, revocation,
// and removal. All mutation discipline lives in conditional store writes,
// so the service stays correct across concurrent requests and multiple
// instances.
package captcha

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/captcha/domain"
	captchaerrors "go.pilab.hu/captcha/errors"
	"go.pilab.hu/captcha/internal/csrf"
	"go.pilab.hu/captcha/recaptcha"
)

// maxIssueAttempts bounds token regeneration on uniqueness collisions.
const maxIssueAttempts = 3

// tokenBytes gives 256 bits of entropy; hex encoding keeps the value safe
// in a URL path segment.
const tokenBytes = 32

// Provenance is the optional client metadata captured at issuance. It is
// advisory only and takes part in no security decision.
type Provenance struct {
	ClientIP  string
	UserAgent string
}

// IssuedToken is what a caller gets back from Issue.
type IssuedToken struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TokenStatus reports the true record state, solved or not.
type TokenStatus struct {
	Valid  bool `json:"valid"`
	Solved bool `json:"solved"`
}

// ProofVerifier is the verification oracle the solve transition consults.
type ProofVerifier interface {
	Verify(ctx context.Context, proof, remoteIP string) (*recaptcha.VerifyResult, error)
}

// Service is the token lifecycle manager.
type Service struct {
	repo             domain.CaptchaTokenRepository
	binder           *csrf.Binder
	verifier         ProofVerifier
	tokenTTL         time.Duration
	allowedHostnames map[string]struct{}
}

// NewService wires the lifecycle manager over its three collaborators.
// An empty hostname allow-list disables the hostname check.
func NewService(repo domain.CaptchaTokenRepository, binder *csrf.Binder, verifier ProofVerifier, tokenTTL time.Duration, allowedHostnames []string) *Service {
	var allowed map[string]struct{}
	if len(allowedHostnames) > 0 {
		allowed = make(map[string]struct{}, len(allowedHostnames))
		for _, h := range allowedHostnames {
			allowed[h] = struct{}{}
		}
	}
	return &Service{
		repo:             repo,
		binder:           binder,
		verifier:         verifier,
		tokenTTL:         tokenTTL,
		allowedHostnames: allowed,
	}
}

// Binder exposes the CSRF binder so the API layer can issue and clear the
// binding cookie.
func (s *Service) Binder() *csrf.Binder {
	return s.binder
}

// TokenTTL returns the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Issue creates a new unsolved challenge token with the default TTL.
// Uniqueness collisions at the store retry generation up to the bound;
// every other store error propagates immediately.
func (s *Service) Issue(ctx context.Context, prov Provenance) (*IssuedToken, error) {
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		token, err := generateToken()
		if err != nil {
			return nil, captchaerrors.NewServerError("failed to generate token")
		}

		now := time.Now().UTC()
		record := &domain.ChallengeToken{
			ID:        uuid.NewString(),
			Token:     token,
			ClientIP:  prov.ClientIP,
			UserAgent: prov.UserAgent,
			CreatedAt: now,
			ExpiresAt: now.Add(s.tokenTTL),
		}

		err = s.repo.Insert(ctx, record)
		if errors.Is(err, domain.ErrDuplicateToken) {
			log.Warn().Int("attempt", attempt).Msg("challenge token collision, regenerating")
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to persist challenge token")
			return nil, captchaerrors.NewServerError("failed to create token")
		}

		return &IssuedToken{
			ID:        record.ID,
			Token:     record.Token,
			ExpiresAt: record.ExpiresAt,
		}, nil
	}

	return nil, captchaerrors.NewServerError("failed to create token after retries")
}

// Exists reports whether a live, unsolved record exists for the token.
// A solved record no longer awaits a challenge and reports false; so do
// not-found and every lower-level failure. This is the one query that
// never reveals internal failure to the caller.
func (s *Service) Exists(ctx context.Context, token string) bool {
	record, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error().Err(err).Msg("existence check failed, reporting false")
		}
		return false
	}
	return !record.Solved
}

// Status reports the record's true state, unlike Exists which collapses
// solved to false. Not-found and errors report {valid:false}.
func (s *Service) Status(ctx context.Context, token string) TokenStatus {
	record, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Error().Err(err).Msg("status check failed, reporting invalid")
		}
		return TokenStatus{}
	}
	return TokenStatus{Valid: true, Solved: record.Solved}
}

// Solve performs the single false-to-true transition of a token.
//
// The cheap local checks run before the oracle call so doomed requests do
// not burn oracle quota; the final write is conditional on the stored
// solved flag because the oracle verdict may go stale between check and
// write. Losing that write race is a conflict, not a success.
func (s *Service) Solve(ctx context.Context, token, proof, binding, remoteIP, clientAgent string) (time.Time, error) {
	if token == "" || proof == "" {
		return time.Time{}, captchaerrors.NewInvalidRequest("token and proof are required")
	}

	// Binding first: no store access on a forged or missing binding.
	if !s.binder.Validate(binding, token, clientAgent) {
		return time.Time{}, captchaerrors.NewBindingInvalid("missing or invalid challenge session binding")
	}

	record, err := s.repo.FindByToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, captchaerrors.NewNotFound("challenge token not found")
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load challenge token for solve")
		return time.Time{}, captchaerrors.NewServerError("failed to load token")
	}
	if record.Solved {
		return time.Time{}, captchaerrors.NewAlreadySolved()
	}
	now := time.Now().UTC()
	if record.Expired(now) {
		return time.Time{}, captchaerrors.NewExpired()
	}

	verdict, err := s.verifier.Verify(ctx, proof, remoteIP)
	if err != nil {
		log.Error().Err(err).Msg("verification oracle call failed")
		return time.Time{}, captchaerrors.NewUpstreamUnavailable("challenge verification unavailable")
	}
	if !verdict.Success {
		return time.Time{}, captchaerrors.NewVerificationFailed("challenge verification rejected the proof", verdict.ErrorCodes)
	}
	if s.allowedHostnames != nil && verdict.Hostname != "" {
		if _, ok := s.allowedHostnames[verdict.Hostname]; !ok {
			log.Warn().Str("hostname", verdict.Hostname).Msg("siteverify hostname not in allow-list")
			return time.Time{}, captchaerrors.NewVerificationFailed("challenge solved on a disallowed hostname", nil)
		}
	}

	updated, err := s.repo.ConditionalUpdate(ctx, token, false, true, &domain.ConditionalUpdateOptions{NotExpiredAt: now})
	if errors.Is(err, domain.ErrNotFound) {
		// A concurrent solver, a revoke, or expiry won the race.
		return time.Time{}, captchaerrors.NewConflict("challenge token was solved or invalidated concurrently")
	}
	if err != nil {
		log.Error().Err(err).Msg("conditional solve write failed")
		return time.Time{}, captchaerrors.NewServerError("failed to record solve")
	}
	if updated.SolvedAt == nil {
		// The store contract stamps solved_at on the transition.
		return time.Time{}, captchaerrors.NewServerError("store did not stamp solve time")
	}

	log.Info().Str("token_id", updated.ID).Time("solved_at", *updated.SolvedAt).Msg("challenge token solved")
	return *updated.SolvedAt, nil
}

// Revoke flips a solved token back to unsolved, clearing its solve time.
// Revoking an absent or unsolved token is a detectable no-op failure, not
// an idempotent success.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return captchaerrors.NewInvalidRequest("token is required")
	}
	_, err := s.repo.ConditionalUpdate(ctx, token, true, false, nil)
	if errors.Is(err, domain.ErrNotFound) {
		return captchaerrors.NewNotFound("challenge token not found or not solved")
	}
	if err != nil {
		log.Error().Err(err).Msg("revoke write failed")
		return captchaerrors.NewServerError("failed to revoke token")
	}
	return nil
}

// Remove deletes a token unconditionally. Not-found is a failure distinct
// from success.
func (s *Service) Remove(ctx context.Context, token string) error {
	if token == "" {
		return captchaerrors.NewInvalidRequest("token is required")
	}
	err := s.repo.Delete(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return captchaerrors.NewNotFound("challenge token not found")
	}
	if err != nil {
		log.Error().Err(err).Msg("delete failed")
		return captchaerrors.NewServerError("failed to remove token")
	}
	return nil
}

// PurgeExpired removes every record past its expiry and reports the count.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("expired token purge failed")
		return 0, captchaerrors.NewServerError("failed to purge expired tokens")
	}
	return deleted, nil
}

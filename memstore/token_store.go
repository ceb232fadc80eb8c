package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/captcha/domain"
)

// retentionSlack keeps a record readable for status queries after its
// expiry before the cache evicts it.
const retentionSlack = time.Hour

// TokenStore is an in-memory CaptchaTokenRepository on ttlcache, used by
// the memory backend and by unit tests. A single mutex serializes writes,
// which makes the conditional update atomic within this process; unlike
// the Mongo and Redis adapters it offers no cross-instance guarantee.
type TokenStore struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.ChallengeToken]
}

// NewTokenStore creates a new in-memory token store with automatic cleanup.
func NewTokenStore() *TokenStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.ChallengeToken](),
	)
	go cache.Start()

	return &TokenStore{cache: cache}
}

func (s *TokenStore) Insert(_ context.Context, token *domain.ChallengeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Get(token.Token) != nil {
		return domain.ErrDuplicateToken
	}

	record := *token
	s.cache.Set(token.Token, &record, time.Until(token.ExpiresAt.Add(retentionSlack)))
	return nil
}

func (s *TokenStore) FindByToken(_ context.Context, token string) (*domain.ChallengeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(token)
	if item == nil {
		return nil, domain.ErrNotFound
	}
	record := *item.Value()
	return &record, nil
}

func (s *TokenStore) ConditionalUpdate(_ context.Context, token string, expectedSolved, newSolved bool, opts *domain.ConditionalUpdateOptions) (*domain.ChallengeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(token)
	if item == nil {
		return nil, domain.ErrNotFound
	}
	record := item.Value()
	if record.Solved != expectedSolved {
		return nil, domain.ErrNotFound
	}
	if opts != nil && !opts.NotExpiredAt.IsZero() && !record.ExpiresAt.After(opts.NotExpiredAt) {
		return nil, domain.ErrNotFound
	}

	record.Solved = newSolved
	if newSolved {
		now := time.Now().UTC()
		record.SolvedAt = &now
	} else {
		record.SolvedAt = nil
	}

	updated := *record
	return &updated, nil
}

func (s *TokenStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cache.Get(token) == nil {
		return domain.ErrNotFound
	}
	s.cache.Delete(token)
	return nil
}

func (s *TokenStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var deleted int64
	for _, key := range s.cache.Keys() {
		item := s.cache.Get(key)
		if item == nil {
			continue
		}
		if item.Value().Expired(now) {
			s.cache.Delete(key)
			deleted++
		}
	}
	return deleted, nil
}

// Close stops the cleanup goroutine.
func (s *TokenStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ domain.CaptchaTokenRepository = (*TokenStore)(nil)

package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/captcha/domain"
)

// retentionSlack keeps a record readable for status queries after its
// expiry before Redis reaps the key.
const retentionSlack = 24 * time.Hour

// TokenStore implements the CaptchaTokenRepository interface on Redis.
// Each record is a hash; inserts and conditional updates run as Lua
// scripts so they stay single atomic server-side operations, matching the
// guarantees the Mongo adapter gets from its filtered writes.
type TokenStore struct {
	client *redis.Client
	prefix string
}

// NewTokenStore creates a new [TokenStore] instance.
func NewTokenStore(client *redis.Client, prefix string) *TokenStore {
	return &TokenStore{
		client: client,
		prefix: prefix,
	}
}

func (r *TokenStore) redisKey(token string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, token)
}

// insertScript creates the hash only when the key does not exist yet.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1],
	'token', ARGV[2],
	'ip_address', ARGV[3],
	'user_agent', ARGV[4],
	'created_at', ARGV[5],
	'expires_at', ARGV[6],
	'solved', '0')
redis.call('EXPIREAT', KEYS[1], ARGV[7])
return 1
`)

// casScript flips the solved field only when it still holds the expected
// value, optionally requiring the record not to be expired. On a solve the
// store stamps solved_at from the Redis server clock.
var casScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'solved') ~= ARGV[1] then
	return 0
end
if ARGV[3] ~= '' then
	local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
	if not exp or exp <= tonumber(ARGV[3]) then
		return 0
	end
end
if ARGV[2] == '1' then
	local now = redis.call('TIME')
	redis.call('HSET', KEYS[1], 'solved', '1', 'solved_at', now[1])
else
	redis.call('HSET', KEYS[1], 'solved', '0')
	redis.call('HDEL', KEYS[1], 'solved_at')
end
return 1
`)

func (r *TokenStore) Insert(ctx context.Context, token *domain.ChallengeToken) error {
	key := r.redisKey(token.Token)
	reapAt := token.ExpiresAt.Add(retentionSlack).Unix()

	created, err := insertScript.Run(ctx, r.client, []string{key},
		token.ID,
		token.Token,
		token.ClientIP,
		token.UserAgent,
		strconv.FormatInt(token.CreatedAt.Unix(), 10),
		strconv.FormatInt(token.ExpiresAt.Unix(), 10),
		strconv.FormatInt(reapAt, 10),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to insert token in Redis: %w", err)
	}
	if created == 0 {
		return domain.ErrDuplicateToken
	}
	return nil
}

func (r *TokenStore) FindByToken(ctx context.Context, token string) (*domain.ChallengeToken, error) {
	res, err := r.client.HGetAll(ctx, r.redisKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read token from Redis: %w", err)
	}
	if len(res) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeRecord(res)
}

func (r *TokenStore) ConditionalUpdate(ctx context.Context, token string, expectedSolved, newSolved bool, opts *domain.ConditionalUpdateOptions) (*domain.ChallengeToken, error) {
	notExpired := ""
	if opts != nil && !opts.NotExpiredAt.IsZero() {
		notExpired = strconv.FormatInt(opts.NotExpiredAt.Unix(), 10)
	}

	key := r.redisKey(token)
	updated, err := casScript.Run(ctx, r.client, []string{key},
		boolField(expectedSolved),
		boolField(newSolved),
		notExpired,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed conditional update in Redis: %w", err)
	}
	if updated == 0 {
		return nil, domain.ErrNotFound
	}
	return r.FindByToken(ctx, token)
}

func (r *TokenStore) Delete(ctx context.Context, token string) error {
	deleted, err := r.client.Del(ctx, r.redisKey(token)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete token from Redis: %w", err)
	}
	if deleted == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteExpired scans for records whose expiry has passed and removes
// them. Redis reaps keys on its own at expiry plus the retention slack;
// this sweep tightens that to the actual expiry on demand.
func (r *TokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	var deleted int64
	var cursor uint64
	now := time.Now().Unix()
	pattern := r.redisKey("*")

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan for expired tokens: %w", err)
		}

		for _, key := range keys {
			res, err := r.client.HGet(ctx, key, "expires_at").Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return deleted, fmt.Errorf("failed to read expiry for %s: %w", key, err)
			}
			expiresAt, err := strconv.ParseInt(res, 10, 64)
			if err != nil {
				continue
			}
			if expiresAt <= now {
				n, err := r.client.Del(ctx, key).Result()
				if err != nil {
					return deleted, fmt.Errorf("failed to delete expired key %s: %w", key, err)
				}
				deleted += n
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decodeRecord(res map[string]string) (*domain.ChallengeToken, error) {
	createdAt, err := strconv.ParseInt(res["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed created_at in Redis record: %w", err)
	}
	expiresAt, err := strconv.ParseInt(res["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed expires_at in Redis record: %w", err)
	}

	record := &domain.ChallengeToken{
		ID:        res["id"],
		Token:     res["token"],
		ClientIP:  res["ip_address"],
		UserAgent: res["user_agent"],
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		ExpiresAt: time.Unix(expiresAt, 0).UTC(),
		Solved:    res["solved"] == "1",
	}
	if raw, ok := res["solved_at"]; ok && raw != "" {
		solvedAt, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed solved_at in Redis record: %w", err)
		}
		t := time.Unix(solvedAt, 0).UTC()
		record.SolvedAt = &t
	}
	return record, nil
}

var _ domain.CaptchaTokenRepository = (*TokenStore)(nil)

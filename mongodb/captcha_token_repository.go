package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/captcha/domain"
)

// CaptchaTokenRepository persists challenge tokens in MongoDB. The unique
// index on the token value backs Insert's collision detection, and every
// solved/unsolved transition goes through a single filtered
// FindOneAndUpdate so the at-most-once guarantee holds across service
// instances.
type CaptchaTokenRepository struct {
	coll *mongo.Collection
}

// NewCaptchaTokenRepository creates the repository and ensures its indexes.
func NewCaptchaTokenRepository(ctx context.Context, db *mongo.Database) (*CaptchaTokenRepository, error) {
	coll := db.Collection(CaptchaTokensCollection)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "token", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure token index: %w", err)
	}

	return &CaptchaTokenRepository{coll: coll}, nil
}

func (r *CaptchaTokenRepository) Insert(ctx context.Context, token *domain.ChallengeToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrDuplicateToken
	}
	if err != nil {
		return fmt.Errorf("failed to insert challenge token: %w", err)
	}
	return nil
}

func (r *CaptchaTokenRepository) FindByToken(ctx context.Context, token string) (*domain.ChallengeToken, error) {
	var record domain.ChallengeToken
	err := r.coll.FindOne(ctx, bson.M{"token": token}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge token: %w", err)
	}
	return &record, nil
}

func (r *CaptchaTokenRepository) ConditionalUpdate(ctx context.Context, token string, expectedSolved, newSolved bool, opts *domain.ConditionalUpdateOptions) (*domain.ChallengeToken, error) {
	filter := bson.M{"token": token, "solved": expectedSolved}
	if opts != nil && !opts.NotExpiredAt.IsZero() {
		filter["expires_at"] = bson.M{"$gt": opts.NotExpiredAt.UTC()}
	}

	var update bson.M
	if newSolved {
		// The server stamps solved_at at write time, so the timestamp is
		// truthful even when the response to the caller is lost.
		update = bson.M{
			"$set":         bson.M{"solved": true},
			"$currentDate": bson.M{"solved_at": true},
		}
	} else {
		update = bson.M{
			"$set":   bson.M{"solved": false},
			"$unset": bson.M{"solved_at": ""},
		}
	}

	var record domain.ChallengeToken
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// Predicate matched nothing: absent, already flipped, or expired.
		return nil, domain.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Str("token", token).Msg("Conditional update on challenge token failed")
		return nil, fmt.Errorf("failed to update challenge token: %w", err)
	}
	return &record, nil
}

func (r *CaptchaTokenRepository) Delete(ctx context.Context, token string) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"token": token})
	if err != nil {
		return fmt.Errorf("failed to delete challenge token: %w", err)
	}
	if result.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *CaptchaTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired challenge tokens: %w", err)
	}
	return result.DeletedCount, nil
}

var _ domain.CaptchaTokenRepository = (*CaptchaTokenRepository)(nil)

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/listings_backend/matching"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	similarKeyPrefix     = "similar:"
	similarGenerationKey = "similar:generation"
	similarCachedSize    = 50
)

type ListingReader interface {
	Get(ctx context.Context, id string) (*models.Listing, error)
	GetMany(ctx context.Context, ids []string) ([]models.Listing, error)
	ListAvailable(ctx context.Context) ([]models.Listing, error)
}

type cachedScore struct {
	Id    string `json:"id"`
	Score int    `json:"score"`
}

// SimilarListings is the render path for "similar listings". Rankings are
// cached in redis when a client is configured; the cache is an optimization only.
type SimilarListings struct {
	Listings ListingReader
	Redis    *redis.Client
	Locker   *redislock.Client
	TTL      time.Duration
	Logger   *logrus.Logger
}

func (s *SimilarListings) For(ctx context.Context, listingId string, limit int) (matching.Ranking, error) {
	ctx, span := tracer.Start(ctx, "SimilarListings.For", trace.WithAttributes(
		attribute.String("listing.id", listingId),
		attribute.Int("limit", limit),
	))
	defer span.End()

	reference, err := s.Listings.Get(ctx, listingId)
	if err != nil {
		return nil, err
	}

	useCache := s.Redis != nil && s.TTL > 0 && limit <= similarCachedSize
	var key string
	if useCache {
		// The generation is read before candidates are loaded; a publish in
		// between bumps it and the ranking below lands under a dead key.
		generation, err := s.generation(ctx)
		if err != nil {
			s.logWarn(listingId, "similar cache generation read failed: "+err.Error())
			useCache = false
		}
		key = similarCacheKey(generation, listingId)
	}
	if useCache {
		if ranking, ok := s.fromCache(ctx, key); ok {
			return ranking.Take(limit), nil
		}
	}

	var lock *redislock.Lock
	if useCache && s.Locker != nil {
		lock, err = s.Locker.Obtain(ctx, "lock:"+key, 5*time.Second, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			// Someone else is filling the cache; compute without writing it.
			useCache = false
		} else if err != nil {
			s.logWarn(listingId, "could not obtain similar cache lock: "+err.Error())
			useCache = false
		}
	}
	defer func() {
		if lock != nil {
			_ = lock.Release(context.WithoutCancel(ctx))
		}
	}()

	candidates, err := s.Listings.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	ranking := matching.Rank(*reference, candidates)

	if useCache {
		s.store(ctx, key, listingId, ranking.Take(similarCachedSize))
	}
	return ranking.Take(limit), nil
}

// Invalidate retires every cached ranking by moving to a new generation.
// Old entries are left to expire.
func (s *SimilarListings) Invalidate(ctx context.Context) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Incr(ctx, similarGenerationKey).Err()
}

func (s *SimilarListings) generation(ctx context.Context) (int64, error) {
	n, err := s.Redis.Get(ctx, similarGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func similarCacheKey(generation int64, listingId string) string {
	return fmt.Sprintf("%s%d:%s", similarKeyPrefix, generation, listingId)
}

// fromCache hydrates cached ids; a miss or any unavailable listing forces a recompute.
func (s *SimilarListings) fromCache(ctx context.Context, key string) (matching.Ranking, bool) {
	raw, err := s.Redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logWarn(key, "similar cache read failed: "+err.Error())
		}
		return nil, false
	}
	var scores []cachedScore
	if err := json.Unmarshal([]byte(raw), &scores); err != nil {
		return nil, false
	}
	ids := make([]string, 0, len(scores))
	for _, sc := range scores {
		ids = append(ids, sc.Id)
	}
	listings, err := s.Listings.GetMany(ctx, ids)
	if err != nil || len(listings) != len(scores) {
		return nil, false
	}
	ranking := make(matching.Ranking, 0, len(scores))
	for i, l := range listings {
		if !l.IsAvailable || l.ID != scores[i].Id {
			return nil, false
		}
		ranking = append(ranking, matching.ScoredListing{Listing: l, Score: scores[i].Score})
	}
	return ranking, true
}

func (s *SimilarListings) store(ctx context.Context, key, listingId string, ranking matching.Ranking) {
	scores := make([]cachedScore, 0, len(ranking))
	for _, sc := range ranking {
		scores = append(scores, cachedScore{Id: sc.Listing.ID, Score: sc.Score})
	}
	data, err := json.Marshal(scores)
	if err != nil {
		return
	}
	if err := s.Redis.Set(ctx, key, data, s.TTL).Err(); err != nil {
		s.logWarn(listingId, "similar cache write failed: "+err.Error())
	}
}

func (s *SimilarListings) logWarn(listingId, msg string) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"field":      "SimilarListings",
		"listing_id": listingId,
	}).Warn(msg)
}

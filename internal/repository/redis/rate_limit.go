package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
)

var _ port.RateLimitStore = (*RateLimitRepository)(nil)

// RateLimitRepository keeps one sorted set per bucket; scores are hit times in milliseconds.
type RateLimitRepository struct {
	cache port.Cache
	keys  Keys
}

// NewRateLimitRepository constructs a Redis-backed sliding window store.
func NewRateLimitRepository(cache port.Cache, keys Keys) *RateLimitRepository {
	return &RateLimitRepository{cache: cache, keys: keys}
}

// Hit trims the window, counts it and records the attempt when under limit, in one round trip.
func (r *RateLimitRepository) Hit(ctx context.Context, bucket domain.Bucket, limit int, window time.Duration, at time.Time) (port.RateLimitHit, error) {
	if limit <= 0 || window <= 0 {
		return port.RateLimitHit{}, fmt.Errorf("rate limit hit: %w: limit and window must be positive", domain.ErrValidation)
	}

	bucketKey := bucket.Key()
	res := r.cache.SlidingWindowHit(ctx, r.keys.RateLimit(bucketKey), port.WindowHit{
		Now:    at,
		Window: window,
		Limit:  limit,
		Member: fmt.Sprintf("%d-%s", at.UnixNano(), uuid.NewString()),
	})
	if !res.Fresh() {
		return port.RateLimitHit{
			Window:   domain.RateWindow{BucketKey: bucketKey, WindowStart: at.Add(-window)},
			Degraded: true,
		}, nil
	}

	return port.RateLimitHit{
		Window: domain.RateWindow{
			BucketKey:   bucketKey,
			WindowStart: res.Value.Oldest,
			Count:       res.Value.Count,
		},
		Allowed: res.Value.Allowed,
	}, nil
}

package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// RateLimitHit is the store's answer to one hit. Degraded is true when the cache could not answer.
type RateLimitHit struct {
	Window   domain.RateWindow
	Allowed  bool
	Degraded bool
}

// RateLimitStore records hits in a sliding window.
type RateLimitStore interface {
	Hit(ctx context.Context, bucket domain.Bucket, limit int, window time.Duration, at time.Time) (RateLimitHit, error)
}

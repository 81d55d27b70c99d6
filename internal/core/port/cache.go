package port

import (
	"context"
	"time"
)

// CacheOutcome tells the caller where a cache answer came from.
type CacheOutcome uint8

const (
	// CacheFresh means the remote cache answered.
	CacheFresh CacheOutcome = iota
	// CacheFallback means the answer came from the in-process last-known-value store.
	CacheFallback
	// CacheUnavailable means no answer exists; the value is the zero value.
	CacheUnavailable
)

func (o CacheOutcome) String() string {
	switch o {
	case CacheFresh:
		return "fresh"
	case CacheFallback:
		return "fallback"
	case CacheUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// CacheResult carries a cache answer together with its provenance. Err holds the
// underlying remote error, if any, and is meant for logging only.
type CacheResult[T any] struct {
	Value   T
	Found   bool
	Outcome CacheOutcome
	Err     error
}

// Fresh reports whether the remote cache produced the value.
func (r CacheResult[T]) Fresh() bool {
	return r.Outcome == CacheFresh
}

// WindowHit describes one sliding window admission attempt.
type WindowHit struct {
	Now    time.Time
	Window time.Duration
	Limit  int
	Member string
}

// WindowReply is the sliding window state after a hit.
type WindowReply struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

// Cache is the resilient cache contract. Calls never fail outright: degraded
// answers are reported through CacheResult.Outcome.
type Cache interface {
	Get(ctx context.Context, key string) CacheResult[[]byte]
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) CacheResult[bool]
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) CacheResult[bool]
	Delete(ctx context.Context, key string) CacheResult[int64]
	Exists(ctx context.Context, key string) CacheResult[bool]
	Expire(ctx context.Context, key string, ttl time.Duration) CacheResult[bool]
	HGet(ctx context.Context, key, field string) CacheResult[string]
	HGetAll(ctx context.Context, key string) CacheResult[map[string]string]
	HSet(ctx context.Context, key string, fields map[string]string) CacheResult[int64]
	CompareAndSwapField(ctx context.Context, key, field, expected, next string) CacheResult[bool]
	SAdd(ctx context.Context, key string, members ...string) CacheResult[int64]
	SRem(ctx context.Context, key, member string) CacheResult[int64]
	SMembers(ctx context.Context, key string) CacheResult[[]string]
	SlidingWindowHit(ctx context.Context, key string, hit WindowHit) CacheResult[WindowReply]
	Ping(ctx context.Context) CacheResult[bool]
}

// CacheHealth is a point-in-time view of the breaker and its counters.
type CacheHealth struct {
	State           string     `json:"state"`
	FailureCount    int64      `json:"failureCount"`
	TotalCalls      int64      `json:"totalCalls"`
	SuccessfulCalls int64      `json:"successfulCalls"`
	FailedCalls     int64      `json:"failedCalls"`
	FallbackCalls   int64      `json:"fallbackCalls"`
	CacheHits       int64      `json:"cacheHits"`
	CacheMisses     int64      `json:"cacheMisses"`
	CacheSize       int        `json:"cacheSize"`
	LastFailureTime *time.Time `json:"lastFailureTime"`
	RedisAvailable  bool       `json:"redisAvailable"`
	DegradedMode    bool       `json:"degradedMode"`
}

// CacheHealthReporter exposes cache health to probes.
type CacheHealthReporter interface {
	Health() CacheHealth
}

package redis

import (
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authcore/internal/infra/cache"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr(), MaxRetries: -1})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

// newTestCache returns a resilient cache whose breaker opens on the first failure.
func newTestCache(t *testing.T) (*cache.Client, *miniredis.Miniredis) {
	t.Helper()

	client, server := newTestRedis(t)
	fallback, err := cache.NewFallbackCache(64)
	if err != nil {
		t.Fatalf("failed to create fallback cache: %v", err)
	}
	breaker := cache.NewBreaker(cache.BreakerSettings{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	return cache.NewClient(client, breaker, fallback, zaptest.NewLogger(t)), server
}

var testKeys = NewKeys("test")

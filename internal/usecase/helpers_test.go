package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/cache"
	redisrepo "github.com/arklim/authcore/internal/repository/redis"
)

var testKeys = redisrepo.NewKeys("test")

// newTestCache returns a resilient cache on miniredis whose breaker opens on the first failure.
func newTestCache(t *testing.T) (*cache.Client, *miniredis.Miniredis) {
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

	fallback, err := cache.NewFallbackCache(256)
	if err != nil {
		t.Fatalf("failed to create fallback cache: %v", err)
	}
	breaker := cache.NewBreaker(cache.BreakerSettings{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	return cache.NewClient(client, breaker, fallback, zaptest.NewLogger(t)), server
}

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (r *recordingAudit) Emit(_ context.Context, event domain.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAudit) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func (r *recordingAudit) last(eventType string) (domain.AuditEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == eventType {
			return r.events[i], true
		}
	}
	return domain.AuditEvent{}, false
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/config"
	redisrepo "github.com/arklim/authcore/internal/repository/redis"
)

type rateLimitFixture struct {
	service   *RateLimitService
	audit     *recordingAudit
	clock     *testClock
	stopRedis func()
}

func newRateLimitFixture(t *testing.T) *rateLimitFixture {
	t.Helper()

	client, server := newTestCache(t)
	audit := &recordingAudit{}
	clock := newTestClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	service := NewRateLimitService(config.RateLimitSettings{
		WindowDuration:    time.Minute,
		LoginLimit:        3,
		MFAVerifyLimit:    2,
		DegradationPolicy: "lenient",
		StrictClasses:     []string{domain.RateClassMFAVerify, domain.RateClassPasswordReset},
	}, redisrepo.NewRateLimitRepository(client, testKeys), audit, zaptest.NewLogger(t))
	service.WithClock(clock.Now)

	return &rateLimitFixture{service: service, audit: audit, clock: clock, stopRedis: server.Close}
}

func TestRateLimitServiceAllowsUpToLimit(t *testing.T) {
	f := newRateLimitFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := f.service.CheckClass(ctx, domain.RateClassLogin, "10.0.0.1")
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}
		if !decision.Allowed || decision.Remaining != 2-i || decision.Limit != 3 {
			t.Fatalf("attempt %d: unexpected decision: %+v", i+1, decision)
		}
	}

	decision, err := f.service.CheckClass(ctx, domain.RateClassLogin, "10.0.0.1")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var limited *domain.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected *RateLimitedError, got %T", err)
	}
	if limited.RetryAfter != time.Minute || decision.RetryAfter != time.Minute {
		t.Fatalf("unexpected retry after: %s / %s", limited.RetryAfter, decision.RetryAfter)
	}
	if decision.Allowed || decision.Remaining != 0 {
		t.Fatalf("unexpected decision: %+v", decision)
	}
	if !decision.Reset.Equal(f.clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected reset: %s", decision.Reset)
	}
	if f.audit.count(domain.AuditRateLimited) != 1 {
		t.Fatal("expected rate limited audit event")
	}

	// Other identities have their own bucket.
	if _, err := f.service.CheckClass(ctx, domain.RateClassLogin, "10.0.0.2"); err != nil {
		t.Fatalf("unexpected error for other identity: %v", err)
	}
}

func TestRateLimitServiceSlidingWindow(t *testing.T) {
	f := newRateLimitFixture(t)
	ctx := context.Background()
	bucket := domain.Bucket{Identity: "user-1", Class: domain.RateClassLogin}

	if _, err := f.service.Check(ctx, bucket, 2, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.clock.Advance(30 * time.Second)
	if _, err := f.service.Check(ctx, bucket, 2, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.clock.Advance(10 * time.Second)
	decision, err := f.service.Check(ctx, bucket, 2, time.Minute)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if decision.RetryAfter != 20*time.Second {
		t.Fatalf("expected 20s retry after, got %s", decision.RetryAfter)
	}

	// The first hit leaves the window.
	f.clock.Advance(21 * time.Second)
	decision, err = f.service.Check(ctx, bucket, 2, time.Minute)
	if err != nil {
		t.Fatalf("expected admission after the oldest hit expired, got %v", err)
	}
	if decision.Remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", decision.Remaining)
	}
}

func TestRateLimitServiceDegradedPolicy(t *testing.T) {
	f := newRateLimitFixture(t)
	ctx := context.Background()

	f.stopRedis()

	decision, err := f.service.CheckClass(ctx, domain.RateClassLogin, "10.0.0.1")
	if err != nil {
		t.Fatalf("lenient class should fail open, got %v", err)
	}
	if !decision.Allowed || !decision.Degraded {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	decision, err = f.service.CheckClass(ctx, domain.RateClassMFAVerify, "user-1")
	if !errors.Is(err, domain.ErrDependencyDegraded) {
		t.Fatalf("strict class should fail closed, got %v", err)
	}
	if decision.Allowed || !decision.Degraded {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestRateLimitServiceUnconfiguredClassPasses(t *testing.T) {
	f := newRateLimitFixture(t)

	decision, err := f.service.CheckClass(context.Background(), domain.RateClassWebAuthn, "10.0.0.1")
	if err != nil || !decision.Allowed {
		t.Fatalf("expected pass-through, got %+v %v", decision, err)
	}
}

func TestRateLimitServiceValidation(t *testing.T) {
	f := newRateLimitFixture(t)
	ctx := context.Background()

	if _, err := f.service.Check(ctx, domain.Bucket{Class: domain.RateClassLogin}, 1, time.Minute); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty identity, got %v", err)
	}
	if _, err := f.service.Check(ctx, domain.Bucket{Identity: "x", Class: domain.RateClassLogin}, 0, time.Minute); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero limit, got %v", err)
	}
}

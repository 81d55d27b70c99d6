package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/logger"
)

const defaultRateWindow = time.Minute

// RateLimitService applies sliding window limits per endpoint class.
type RateLimitService struct {
	store  port.RateLimitStore
	policy domain.DegradationPolicy
	window time.Duration
	limits map[string]int
	audit  port.AuditSink
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimitService constructs a RateLimitService from the per-class settings.
func NewRateLimitService(cfg config.RateLimitSettings, store port.RateLimitStore, audit port.AuditSink, logger *zap.Logger) *RateLimitService {
	if logger == nil {
		logger = zap.NewNop()
	}

	window := cfg.WindowDuration
	if window <= 0 {
		window = defaultRateWindow
	}

	service := &RateLimitService{
		store:  store,
		policy: domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.DegradationPolicy), cfg.StrictClasses...),
		window: window,
		limits: map[string]int{
			domain.RateClassLogin:         cfg.LoginLimit,
			domain.RateClassRefresh:       cfg.RefreshLimit,
			domain.RateClassMFAVerify:     cfg.MFAVerifyLimit,
			domain.RateClassPasswordReset: cfg.PasswordResetLimit,
			domain.RateClassWebAuthn:      cfg.WebAuthnLimit,
		},
		audit:  audit,
		logger: logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *RateLimitService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Limit returns the configured limit and window for class. ok is false for unknown or disabled classes.
func (s *RateLimitService) Limit(class string) (limit int, window time.Duration, ok bool) {
	limit = s.limits[class]
	return limit, s.window, limit > 0
}

// CheckClass checks identity against the configured limit of class. Classes without a limit always pass.
func (s *RateLimitService) CheckClass(ctx context.Context, class, identity string) (domain.RateDecision, error) {
	limit, window, ok := s.Limit(class)
	if !ok {
		return domain.RateDecision{Allowed: true}, nil
	}
	return s.Check(ctx, domain.Bucket{Identity: identity, Class: class}, limit, window)
}

// Check records one attempt on bucket. A throttled attempt returns the decision together with a
// *domain.RateLimitedError. When the cache cannot answer, the class's degradation policy decides:
// lenient classes pass with Degraded set, strict classes fail with domain.ErrDependencyDegraded.
func (s *RateLimitService) Check(ctx context.Context, bucket domain.Bucket, limit int, window time.Duration) (domain.RateDecision, error) {
	bucket.Identity = strings.TrimSpace(bucket.Identity)
	bucket.Class = strings.TrimSpace(bucket.Class)
	if bucket.Identity == "" || bucket.Class == "" {
		return domain.RateDecision{}, fmt.Errorf("%w: bucket identity and class are required", domain.ErrValidation)
	}

	now := s.now()
	hit, err := s.store.Hit(ctx, bucket, limit, window, now)
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("rate limit hit: %w", err)
	}

	if hit.Degraded {
		decision := domain.RateDecision{Limit: limit, Degraded: true, Reset: now.Add(window)}
		if s.policy.FailsOpen(bucket.Class) {
			decision.Allowed = true
			decision.Remaining = limit
			s.logger.Warn("rate limiter degraded, admitting request",
				zap.String("class", bucket.Class),
				zap.String("identity", logger.MaskString(bucket.Identity)),
			)
			return decision, nil
		}
		s.logger.Warn("rate limiter degraded, rejecting request",
			zap.String("class", bucket.Class),
			zap.String("identity", logger.MaskString(bucket.Identity)),
		)
		return decision, fmt.Errorf("%w: rate limiter unavailable for %s", domain.ErrDependencyDegraded, bucket.Class)
	}

	reset := hit.Window.WindowStart.Add(window)
	remaining := limit - hit.Window.Count
	if remaining < 0 {
		remaining = 0
	}

	decision := domain.RateDecision{
		Allowed:   hit.Allowed,
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
	if hit.Allowed {
		return decision, nil
	}

	retryAfter := reset.Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	decision.RetryAfter = retryAfter

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditRateLimited,
		OccurredAt: now,
		Metadata: map[string]any{
			"class":    bucket.Class,
			"identity": logger.MaskString(bucket.Identity),
			"count":    hit.Window.Count,
			"limit":    limit,
		},
	})
	return decision, &domain.RateLimitedError{Bucket: hit.Window.BucketKey, RetryAfter: retryAfter}
}

func (s *RateLimitService) emit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}

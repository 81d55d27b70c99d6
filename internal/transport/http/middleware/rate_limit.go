package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	appLogger "github.com/arklim/authcore/internal/infra/logger"
)

const (
	rateLimitProblemType  = "https://authcore.example.com/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// ClassLimiter checks an identity against the window of an endpoint class.
type ClassLimiter interface {
	CheckClass(ctx context.Context, class, identity string) (domain.RateDecision, error)
}

// IdentifierFunc extracts the identity used to scope rate limits (e.g. client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule binds an endpoint class to the identity it is counted against.
type RateLimitRule struct {
	Class      string
	Identifier IdentifierFunc
}

// RateLimiter turns ClassLimiter decisions into HTTP responses.
type RateLimiter struct {
	limiter ClassLimiter
	logger  *zap.Logger
}

// ProblemDetails represents an RFC 9457 compatible error payload for rate limits.
type ProblemDetails struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RetryAfter int            `json:"retry_after"`
	TraceID    string         `json:"trace_id,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(limiter ClassLimiter, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{limiter: limiter, logger: logger}
}

// ClientIPIdentifier scopes a rule to the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// AuthenticatedUserIdentifier scopes a rule to the user set by RequireAuth.
func AuthenticatedUserIdentifier() IdentifierFunc {
	return GetAuthenticatedUserID
}

// MaxIdentifierBodyBytes caps how much of a request body JSONFieldIdentifier reads.
const MaxIdentifierBodyBytes int64 = 64 << 10

// JSONFieldIdentifier scopes a rule to a top level string field of the JSON body, falling back to the
// client IP. The body is cached on the context, so handlers behind it must bind with
// ShouldBindBodyWithJSON.
func JSONFieldIdentifier(field string) IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		if c.Request.Body != nil && c.Request.Body != http.NoBody {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxIdentifierBodyBytes)

			var body map[string]any
			if err := c.ShouldBindBodyWithJSON(&body); err == nil {
				if value, ok := body[field].(string); ok && strings.TrimSpace(value) != "" {
					return field + ":" + strings.TrimSpace(value), true
				}
			}
		}
		return ClientIPIdentifier()(c)
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules in order. The most restrictive
// allowed decision drives the X-RateLimit headers.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Class == "" {
			continue
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl.limiter == nil {
			c.Next()
			return
		}

		var best *domain.RateDecision
		for _, rule := range filtered {
			identity, ok := rule.Identifier(c)
			if !ok || identity == "" {
				continue
			}

			decision, err := rl.limiter.CheckClass(c.Request.Context(), rule.Class, identity)
			if err != nil {
				var limited *domain.RateLimitedError
				switch {
				case errors.As(err, &limited):
					rl.applyHeaders(c, decision)
					rl.respondRateLimited(c, rule.Class, decision)
				case errors.Is(err, domain.ErrDependencyDegraded):
					c.Header(DegradedHeader, "rate_limit")
					c.AbortWithStatusJSON(http.StatusServiceUnavailable,
						newErrorResponse(c, "rate limiting unavailable, try again later"))
				default:
					rl.logger.Warn("rate limit check failed",
						zap.String("class", rule.Class),
						zap.String("identity", appLogger.MaskString(identity)),
						zap.Error(err),
					)
					continue
				}
				return
			}

			if decision.Degraded {
				c.Header(DegradedHeader, "rate_limit")
				continue
			}
			if decision.Limit == 0 {
				continue
			}
			if best == nil || moreRestrictive(decision, *best) {
				snapshot := decision
				best = &snapshot
			}
		}

		if best != nil {
			rl.applyHeaders(c, *best)
		}

		c.Next()
	}
}

func moreRestrictive(candidate, current domain.RateDecision) bool {
	if candidate.Remaining != current.Remaining {
		return candidate.Remaining < current.Remaining
	}
	return candidate.Reset.Before(current.Reset)
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, decision domain.RateDecision) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(max(decision.Remaining, 0)))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))

	if !decision.Allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(decision)))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, class string, decision domain.RateDecision) {
	seconds := retrySeconds(decision)

	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Instance:   instance,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
		Extensions: map[string]any{"class": class},
	})
}

func retrySeconds(decision domain.RateDecision) int {
	seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

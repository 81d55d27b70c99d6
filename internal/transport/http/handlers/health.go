package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/port"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthOption configures HealthHandler.
type HealthOption func(*HealthHandler)

// WithReadinessCheck registers a named dependency probe for /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandler) {
		if name != "" && check != nil {
			h.checks[name] = check
		}
	}
}

// WithCacheHealth exposes the circuit breaker snapshot on /health/cache.
func WithCacheHealth(reporter port.CacheHealthReporter) HealthOption {
	return func(h *HealthHandler) {
		h.cache = reporter
	}
}

// HealthHandler exposes liveness, readiness and cache health information.
type HealthHandler struct {
	startedAt time.Time
	checks    map[string]ReadinessCheck
	cache     port.CacheHealthReporter
}

// NewHealthHandler builds a new health handler instance.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	h := &HealthHandler{
		startedAt: time.Now().UTC(),
		checks:    make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Status reports liveness.
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
	})
}

// Readiness runs every registered check. The remote cache is not one of them: an open circuit
// is a supported operating mode, reported on /health/cache instead.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	c.JSON(code, resp)
}

// CacheHealth returns the circuit breaker state and counters.
func (h *HealthHandler) CacheHealth(c *gin.Context) {
	if h.cache == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "cache health not available"))
		return
	}

	health := h.cache.Health()
	status := "ok"
	if health.DegradedMode {
		status = "degraded"
	}
	c.JSON(http.StatusOK, CacheHealthResponse{Status: status, CacheHealth: health})
}

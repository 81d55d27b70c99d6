package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/usecase"
)

// RateLimitCheckRequest asks the engine to count one attempt for a collaborator, e.g. a password
// reset service that owns its endpoint but shares the engine's windows.
type RateLimitCheckRequest struct {
	Class    string `json:"class" binding:"required"`
	Identity string `json:"identity" binding:"required"`
}

// RateLimitCheckResponse mirrors domain.RateDecision.
type RateLimitCheckResponse struct {
	Allowed           bool      `json:"allowed"`
	Limit             int       `json:"limit"`
	Remaining         int       `json:"remaining"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
	Reset             time.Time `json:"reset"`
	Degraded          bool      `json:"degraded"`
}

// RateLimitHandler exposes the limiter to internal callers.
type RateLimitHandler struct {
	limiter *usecase.RateLimitService
}

// NewRateLimitHandler constructs a RateLimitHandler.
func NewRateLimitHandler(limiter *usecase.RateLimitService) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// Check counts one attempt. A throttled attempt answers 429 with the decision as the body.
func (h *RateLimitHandler) Check(c *gin.Context) {
	var req RateLimitCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "class and identity are required"))
		return
	}

	class := strings.TrimSpace(req.Class)
	if _, _, ok := h.limiter.Limit(class); !ok {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "unknown rate limit class"))
		return
	}

	decision, err := h.limiter.CheckClass(c.Request.Context(), class, req.Identity)
	resp := RateLimitCheckResponse{
		Allowed:   decision.Allowed,
		Limit:     decision.Limit,
		Remaining: decision.Remaining,
		Reset:     decision.Reset,
		Degraded:  decision.Degraded,
	}

	var limited *domain.RateLimitedError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.As(err, &limited):
		resp.RetryAfterSeconds = max(int(math.Ceil(limited.RetryAfter.Seconds())), 1)
		c.Header("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, resp)
	default:
		respondAuthError(c, err, "rate limit check failed")
	}
}

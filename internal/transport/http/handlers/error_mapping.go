package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/repository"
	"github.com/arklim/authcore/internal/transport/http/middleware"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// invalidCredentials is the only body credential failures ever get, whatever the cause.
const invalidCredentials = "invalid credentials"

// authErrorCases classifies the engine's error kinds. Credential failures share one body so
// callers cannot tell an expired token from a replayed one.
var authErrorCases = []ErrorCase{
	{Err: domain.ErrAuthentication, Status: http.StatusUnauthorized, Message: invalidCredentials},
	{Err: domain.ErrExpired, Status: http.StatusUnauthorized, Message: invalidCredentials},
	{Err: domain.ErrReplay, Status: http.StatusUnauthorized, Message: invalidCredentials},
	{Err: domain.ErrValidation, Status: http.StatusBadRequest, Message: "invalid request"},
	{Err: domain.ErrDependencyDegraded, Status: http.StatusServiceUnavailable, Message: "service temporarily degraded, try again later"},
	{Err: domain.ErrRateLimited, Status: http.StatusTooManyRequests, Message: "too many requests"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondAuthError maps engine errors with the shared table. extra cases are checked first.
func respondAuthError(c *gin.Context, err error, fallbackMessage string, extra ...ErrorCase) {
	var limited *domain.RateLimitedError
	if errors.As(err, &limited) {
		seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(seconds, 1)))
	}
	if errors.Is(err, domain.ErrDependencyDegraded) {
		c.Header(middleware.DegradedHeader, "cache")
	}

	cases := append(append([]ErrorCase{}, extra...), authErrorCases...)
	if !matchesAny(err, cases) {
		_ = c.Error(err)
	}
	RespondWithMappedError(c, err, cases, http.StatusInternalServerError, fallbackMessage)
}

func matchesAny(err error, cases []ErrorCase) bool {
	for _, cs := range cases {
		if cs.Err != nil && errors.Is(err, cs.Err) {
			return true
		}
	}
	return false
}

var notFoundCase = ErrorCase{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "not found"}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/security"
)

// DegradedHeader marks responses served while the session cache was unreachable.
const DegradedHeader = "X-Authcore-Degraded"

// ErrorResponse matches the handlers.ErrorResponse structure.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// AccessVerifier is the slice of the token service the auth middleware needs.
type AccessVerifier interface {
	VerifyAccess(token string) (*security.AccessTokenClaims, error)
	ValidateSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// RequireAuth validates the bearer token and the session it is bound to.
func RequireAuth(verifier AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing or malformed authorization header"))
			return
		}

		claims, err := verifier.VerifyAccess(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
			return
		}

		if claims.SessionID != "" {
			if _, err := verifier.ValidateSession(c.Request.Context(), claims.SessionID); err != nil {
				switch {
				case domain.IsAuthFailure(err):
					c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "session is no longer valid"))
				case errors.Is(err, domain.ErrDependencyDegraded):
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "session store unavailable"))
				default:
					c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
				}
				return
			}
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(SessionIDKey, claims.SessionID)
		c.Set("claims", claims)
		c.Set("roles", claims.Roles)

		reqCtx := GetRequestContext(c)
		reqCtx.UserID = claims.UserID
		reqCtx.SessionID = claims.SessionID

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireRole checks if the authenticated user has any of the specified roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rolesVal, exists := c.Get("roles")
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "authentication required"))
			return
		}

		userRoles, _ := rolesVal.([]string)
		if !hasAnyRole(userRoles, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

func hasAnyRole(userRoles []string, requiredRoles []string) bool {
	roleMap := make(map[string]bool, len(userRoles))
	for _, role := range userRoles {
		roleMap[role] = true
	}

	for _, required := range requiredRoles {
		if roleMap[required] {
			return true
		}
	}
	return false
}

// GetAuthenticatedUserID retrieves the user id stored by RequireAuth.
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	return id, id != ""
}

// GetAuthenticatedSessionID retrieves the session id stored by RequireAuth.
func GetAuthenticatedSessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}

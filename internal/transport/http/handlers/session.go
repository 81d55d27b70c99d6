package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// SessionHandler exposes session management for the authenticated user.
type SessionHandler struct {
	tokens *usecase.TokenService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(tokens *usecase.TokenService) *SessionHandler {
	return &SessionHandler{tokens: tokens}
}

// RegisterRoutes binds session routes. The group must already require authentication.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.ListSessions)
	r.GET("/current", h.CurrentSession)
	r.DELETE("/:session_id", h.RevokeSession)
	r.DELETE("", h.RevokeAllSessions)
}

// ListSessions returns the caller's sessions; ?active=false includes revoked and expired ones.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	activeOnly := true
	if raw := c.Query("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "active must be a boolean"))
			return
		}
		activeOnly = parsed
	}

	sessions, err := h.tokens.ListSessions(c.Request.Context(), userID, activeOnly)
	if err != nil {
		respondAuthError(c, err, "failed to list sessions")
		return
	}

	current := middleware.GetAuthenticatedSessionID(c)
	resp := SessionListResponse{Sessions: make([]SessionSummary, 0, len(sessions))}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, newSessionSummary(session, current))
	}
	c.JSON(http.StatusOK, resp)
}

// CurrentSession validates and returns the session bound to the access token.
func (h *SessionHandler) CurrentSession(c *gin.Context) {
	sessionID := middleware.GetAuthenticatedSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "access token is not bound to a session"))
		return
	}

	session, err := h.tokens.ValidateSession(c.Request.Context(), sessionID)
	if err != nil {
		respondAuthError(c, err, "failed to validate session")
		return
	}

	c.JSON(http.StatusOK, newSessionSummary(*session, sessionID))
}

// RevokeSession revokes one of the caller's sessions.
func (h *SessionHandler) RevokeSession(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)
	sessionID := strings.TrimSpace(c.Param("session_id"))

	if err := h.tokens.RevokeForUser(c.Request.Context(), userID, sessionID, domain.RevokeReasonLogout); err != nil {
		respondAuthError(c, err, "failed to revoke session", notFoundCase)
		return
	}

	c.Status(http.StatusNoContent)
}

// RevokeAllSessions signs the caller out everywhere.
func (h *SessionHandler) RevokeAllSessions(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	revoked, err := h.tokens.RevokeAll(c.Request.Context(), userID, domain.RevokeReasonLogoutAll)
	if err != nil {
		respondAuthError(c, err, "failed to revoke sessions")
		return
	}

	c.JSON(http.StatusOK, RevokeAllResponse{Revoked: revoked})
}

// AdminRevokeSession revokes any session. Mounted on the internal group.
func (h *SessionHandler) AdminRevokeSession(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))

	if err := h.tokens.Revoke(c.Request.Context(), sessionID, domain.RevokeReasonAdminRequest); err != nil {
		respondAuthError(c, err, "failed to revoke session", notFoundCase)
		return
	}

	c.Status(http.StatusNoContent)
}

// AdminRevokeUserSessions revokes every session of a user. Mounted on the internal group.
func (h *SessionHandler) AdminRevokeUserSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	revoked, err := h.tokens.RevokeAll(c.Request.Context(), userID, domain.RevokeReasonAdminRequest)
	if err != nil {
		respondAuthError(c, err, "failed to revoke sessions")
		return
	}

	c.JSON(http.StatusOK, RevokeAllResponse{Revoked: revoked})
}

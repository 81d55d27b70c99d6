package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// TokenHandler exposes token issuance, refresh and logout.
type TokenHandler struct {
	tokens *usecase.TokenService
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(tokens *usecase.TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// RegisterRoutes binds public token routes. refreshMiddlewares run ahead of the refresh handler.
func (h *TokenHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc, refreshMiddlewares ...gin.HandlerFunc) {
	chain := append([]gin.HandlerFunc{}, refreshMiddlewares...)
	chain = append(chain, h.Refresh)
	r.POST("/token/refresh", chain...)
	r.POST("/logout", requireAuth, h.Logout)
}

// Issue opens a session for a user whose primary credentials were verified by the caller.
func (h *TokenHandler) Issue(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user_id is required"))
		return
	}

	device := domain.DeviceInfo{
		Fingerprint: strings.TrimSpace(req.DeviceFingerprint),
		Label:       strings.TrimSpace(req.DeviceLabel),
		IP:          strings.TrimSpace(req.IP),
		UserAgent:   strings.TrimSpace(req.UserAgent),
	}

	pair, err := h.tokens.Issue(c.Request.Context(), strings.TrimSpace(req.UserID), device)
	if err != nil {
		respondAuthError(c, err, "failed to issue tokens")
		return
	}

	c.JSON(http.StatusCreated, newTokenResponse(pair))
}

// Refresh rotates a refresh token.
func (h *TokenHandler) Refresh(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	device := middleware.GetRequestContext(c).Device(strings.TrimSpace(req.DeviceLabel))
	pair, err := h.tokens.Refresh(c.Request.Context(), req.RefreshToken, device)
	if err != nil {
		respondAuthError(c, err, "failed to refresh tokens")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// Logout revokes the session bound to the presented access token.
func (h *TokenHandler) Logout(c *gin.Context) {
	sessionID := middleware.GetAuthenticatedSessionID(c)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "access token is not bound to a session"))
		return
	}

	if err := h.tokens.Revoke(c.Request.Context(), sessionID, domain.RevokeReasonLogout); err != nil {
		respondAuthError(c, err, "failed to revoke session")
		return
	}

	c.Status(http.StatusNoContent)
}

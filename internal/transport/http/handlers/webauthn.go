package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// WebAuthnHandler exposes passkey registration, passkey login and credential management.
type WebAuthnHandler struct {
	webauthn *usecase.WebAuthnService
	tokens   *usecase.TokenService
}

// NewWebAuthnHandler constructs a WebAuthnHandler. A successful passkey login opens a session
// through tokens.
func NewWebAuthnHandler(webauthn *usecase.WebAuthnService, tokens *usecase.TokenService) *WebAuthnHandler {
	return &WebAuthnHandler{webauthn: webauthn, tokens: tokens}
}

// RegisterLoginRoutes binds the unauthenticated passkey login ceremony.
func (h *WebAuthnHandler) RegisterLoginRoutes(r *gin.RouterGroup, middlewares ...gin.HandlerFunc) {
	r.POST("/login/begin", append(append([]gin.HandlerFunc{}, middlewares...), h.BeginLogin)...)
	r.POST("/login/complete", append(append([]gin.HandlerFunc{}, middlewares...), h.CompleteLogin)...)
}

// RegisterCredentialRoutes binds passkey management. The group must already require authentication.
func (h *WebAuthnHandler) RegisterCredentialRoutes(r *gin.RouterGroup) {
	r.POST("/register/begin", h.BeginRegistration)
	r.POST("/register/complete", h.CompleteRegistration)
	r.GET("", h.ListCredentials)
	r.DELETE("/:credential_id", h.RemoveCredential)
}

// BeginRegistration returns creation options for a new passkey.
func (h *WebAuthnHandler) BeginRegistration(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	var req PasskeyRegisterBeginRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
			return
		}
	}

	start, err := h.webauthn.BeginRegistration(c.Request.Context(), userID, strings.TrimSpace(req.UserName))
	if err != nil {
		respondAuthError(c, err, "failed to start passkey registration")
		return
	}

	c.JSON(http.StatusOK, newCeremonyStartResponse(start))
}

// CompleteRegistration verifies the attestation and stores the passkey.
func (h *WebAuthnHandler) CompleteRegistration(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	var req CeremonyFinishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "challenge_id and credential are required"))
		return
	}

	credential, err := h.webauthn.CompleteRegistrationFor(c.Request.Context(), userID, strings.TrimSpace(req.ChallengeID), req.Credential)
	if err != nil {
		respondAuthError(c, err, "failed to complete passkey registration")
		return
	}

	c.JSON(http.StatusCreated, newCredentialSummary(*credential))
}

// BeginLogin returns request options for the user's passkeys.
func (h *WebAuthnHandler) BeginLogin(c *gin.Context) {
	var req PasskeyLoginBeginRequest
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user_id is required"))
		return
	}

	start, err := h.webauthn.BeginAuthentication(c.Request.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		respondAuthError(c, err, "failed to start passkey login")
		return
	}

	c.JSON(http.StatusOK, newCeremonyStartResponse(start))
}

// CompleteLogin verifies the assertion and opens a session.
func (h *WebAuthnHandler) CompleteLogin(c *gin.Context) {
	var req CeremonyFinishRequest
	if err := c.ShouldBindBodyWithJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "challenge_id and credential are required"))
		return
	}

	login, err := h.webauthn.CompleteAuthentication(c.Request.Context(), strings.TrimSpace(req.ChallengeID), req.Credential)
	if err != nil {
		respondAuthError(c, err, "failed to complete passkey login")
		return
	}

	device := middleware.GetRequestContext(c).Device(strings.TrimSpace(req.DeviceLabel))
	pair, err := h.tokens.Issue(c.Request.Context(), login.UserID, device)
	if err != nil {
		respondAuthError(c, err, "failed to issue tokens")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// ListCredentials lists the caller's passkeys.
func (h *WebAuthnHandler) ListCredentials(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	credentials, err := h.webauthn.ListCredentials(c.Request.Context(), userID)
	if err != nil {
		respondAuthError(c, err, "failed to list passkeys")
		return
	}

	resp := CredentialListResponse{Credentials: make([]CredentialSummary, 0, len(credentials))}
	for _, credential := range credentials {
		resp.Credentials = append(resp.Credentials, newCredentialSummary(credential))
	}
	c.JSON(http.StatusOK, resp)
}

// RemoveCredential deletes one of the caller's passkeys. The id is base64url without padding.
func (h *WebAuthnHandler) RemoveCredential(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	credentialID, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(c.Param("credential_id")))
	if err != nil || len(credentialID) == 0 {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid credential id"))
		return
	}

	if err := h.webauthn.RemoveCredential(c.Request.Context(), userID, credentialID); err != nil {
		respondAuthError(c, err, "failed to remove passkey", notFoundCase)
		return
	}

	c.Status(http.StatusNoContent)
}

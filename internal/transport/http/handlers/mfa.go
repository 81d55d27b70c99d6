package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// MFAHandler exposes TOTP enrollment, verification and backup codes for the authenticated user.
type MFAHandler struct {
	mfa *usecase.MFAService
}

// NewMFAHandler constructs an MFAHandler.
func NewMFAHandler(mfa *usecase.MFAService) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

// RegisterRoutes binds MFA routes. The group must already require authentication; verifyMiddlewares
// guard every route that checks a code.
func (h *MFAHandler) RegisterRoutes(r *gin.RouterGroup, verifyMiddlewares ...gin.HandlerFunc) {
	guarded := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		chain := append([]gin.HandlerFunc{}, verifyMiddlewares...)
		return append(chain, handler)
	}

	r.GET("/status", h.Status)
	r.POST("/enroll", h.Enroll)
	r.POST("/activate", guarded(h.Activate)...)
	r.POST("/verify", guarded(h.Verify)...)
	r.POST("/backup-codes/verify", guarded(h.VerifyBackupCode)...)
	r.POST("/backup-codes/regenerate", guarded(h.RegenerateBackupCodes)...)
	r.POST("/disable", guarded(h.Disable)...)
}

// Enroll creates a pending TOTP enrollment.
func (h *MFAHandler) Enroll(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	var req MFAEnrollRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid enrollment payload"))
			return
		}
	}

	result, err := h.mfa.Enroll(c.Request.Context(), userID, strings.TrimSpace(req.AccountName))
	if err != nil {
		respondAuthError(c, err, "failed to enroll mfa")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, MFAEnrollResponse{
		Secret:          result.Secret,
		ProvisioningURI: result.ProvisioningURI,
		BackupCodes:     result.BackupCodes,
	})
}

// Activate confirms enrollment with the first code from the authenticator app.
func (h *MFAHandler) Activate(c *gin.Context) {
	userID, code, ok := h.bindCode(c)
	if !ok {
		return
	}

	if err := h.mfa.Activate(c.Request.Context(), userID, code); err != nil {
		respondAuthError(c, err, "failed to activate mfa")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "mfa enabled"})
}

// Verify checks a TOTP code. A wrong code answers 401 like every other credential failure.
func (h *MFAHandler) Verify(c *gin.Context) {
	userID, code, ok := h.bindCode(c)
	if !ok {
		return
	}

	valid, err := h.mfa.Verify(c.Request.Context(), userID, code)
	h.respondVerification(c, valid, err)
}

// VerifyBackupCode spends a backup code.
func (h *MFAHandler) VerifyBackupCode(c *gin.Context) {
	userID, code, ok := h.bindCode(c)
	if !ok {
		return
	}

	valid, err := h.mfa.VerifyBackupCode(c.Request.Context(), userID, code)
	h.respondVerification(c, valid, err)
}

// RegenerateBackupCodes replaces the backup codes after a TOTP check.
func (h *MFAHandler) RegenerateBackupCodes(c *gin.Context) {
	userID, code, ok := h.bindCode(c)
	if !ok {
		return
	}

	codes, err := h.mfa.RegenerateBackupCodes(c.Request.Context(), userID, code)
	if err != nil {
		respondAuthError(c, err, "failed to regenerate backup codes")
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Disable removes the enrollment after a TOTP or backup code check.
func (h *MFAHandler) Disable(c *gin.Context) {
	userID, code, ok := h.bindCode(c)
	if !ok {
		return
	}

	if err := h.mfa.Disable(c.Request.Context(), userID, code); err != nil {
		respondAuthError(c, err, "failed to disable mfa")
		return
	}

	c.Status(http.StatusNoContent)
}

// Status reports enrollment state and remaining backup codes.
func (h *MFAHandler) Status(c *gin.Context) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	status, err := h.mfa.Status(c.Request.Context(), userID)
	if err != nil {
		respondAuthError(c, err, "failed to load mfa status")
		return
	}

	c.JSON(http.StatusOK, MFAStatusResponse{
		Enrolled:             status.Enrolled,
		Enabled:              status.Enabled,
		BackupCodesRemaining: status.BackupCodesRemaining,
		EnabledAt:            status.EnabledAt,
	})
}

func (h *MFAHandler) bindCode(c *gin.Context) (string, string, bool) {
	userID, _ := middleware.GetAuthenticatedUserID(c)

	var req MFACodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "code is required"))
		return "", "", false
	}
	return userID, strings.TrimSpace(req.Code), true
}

func (h *MFAHandler) respondVerification(c *gin.Context, valid bool, err error) {
	if err != nil {
		respondAuthError(c, err, "failed to verify code")
		return
	}
	if !valid {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, invalidCredentials))
		return
	}
	c.JSON(http.StatusOK, MFAVerifyResponse{Valid: true})
}

package handlers

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: c.GetString("trace_id"),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned by the liveness probe.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the outcome of every readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// CacheHealthResponse wraps the breaker snapshot served at /health/cache.
type CacheHealthResponse struct {
	Status string `json:"status"`
	port.CacheHealth
}

// IssueTokenRequest is sent by a trusted primary authenticator after it verified the user.
type IssueTokenRequest struct {
	UserID            string `json:"user_id" binding:"required"`
	DeviceFingerprint string `json:"device_fingerprint"`
	DeviceLabel       string `json:"device_label"`
	IP                string `json:"ip"`
	UserAgent         string `json:"user_agent"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	DeviceLabel  string `json:"device_label"`
}

// TokenResponse is the OAuth style token pair payload.
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

func newTokenResponse(pair *domain.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        pair.ExpiresIn(),
		ExpiresAt:        pair.ExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
	}
}

// SessionSummary is the public view of a session. Refresh hashes never leave the service.
type SessionSummary struct {
	ID             string     `json:"id"`
	DeviceLabel    string     `json:"device_label,omitempty"`
	IP             string     `json:"ip,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	Revoked        bool       `json:"revoked"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokeReason   string     `json:"revoke_reason,omitempty"`
	Current        bool       `json:"current,omitempty"`
}

func newSessionSummary(session domain.Session, currentID string) SessionSummary {
	return SessionSummary{
		ID:             session.ID,
		DeviceLabel:    session.DeviceLabel,
		IP:             session.IP,
		UserAgent:      session.UserAgent,
		CreatedAt:      session.CreatedAt,
		ExpiresAt:      session.ExpiresAt,
		LastActivityAt: session.LastActivityAt,
		Revoked:        session.Revoked,
		RevokedAt:      session.RevokedAt,
		RevokeReason:   session.RevokeReason,
		Current:        session.ID == currentID,
	}
}

// SessionListResponse lists a user's sessions.
type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// RevokeAllResponse reports how many sessions were revoked.
type RevokeAllResponse struct {
	Revoked int `json:"revoked"`
}

// MFACodeRequest carries a TOTP or backup code.
type MFACodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// MFAEnrollRequest starts TOTP enrollment.
type MFAEnrollRequest struct {
	AccountName string `json:"account_name"`
}

// MFAEnrollResponse is shown to the user exactly once.
type MFAEnrollResponse struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	BackupCodes     []string `json:"backup_codes"`
}

// MFAVerifyResponse reports the outcome of a code check.
type MFAVerifyResponse struct {
	Valid bool `json:"valid"`
}

// BackupCodesResponse carries a fresh batch of backup codes.
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// MFAStatusResponse summarises a user's second factor.
type MFAStatusResponse struct {
	Enrolled             bool       `json:"enrolled"`
	Enabled              bool       `json:"enabled"`
	BackupCodesRemaining int        `json:"backup_codes_remaining"`
	EnabledAt            *time.Time `json:"enabled_at,omitempty"`
}

// PasskeyLoginBeginRequest starts a passkey login for a known user.
type PasskeyLoginBeginRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// PasskeyRegisterBeginRequest starts registering a new passkey.
type PasskeyRegisterBeginRequest struct {
	UserName string `json:"user_name"`
}

// CeremonyStartResponse hands the browser the options for navigator.credentials.
type CeremonyStartResponse struct {
	ChallengeID string    `json:"challenge_id"`
	Options     any       `json:"options"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func newCeremonyStartResponse(start *domain.CeremonyStart) CeremonyStartResponse {
	return CeremonyStartResponse{
		ChallengeID: start.ChallengeID,
		Options:     start.Options,
		ExpiresAt:   start.ExpiresAt,
	}
}

// CeremonyFinishRequest carries the authenticator response verbatim.
type CeremonyFinishRequest struct {
	ChallengeID string          `json:"challenge_id" binding:"required"`
	Credential  json.RawMessage `json:"credential" binding:"required"`
	DeviceLabel string          `json:"device_label"`
}

// CredentialSummary is the public view of a registered passkey.
type CredentialSummary struct {
	ID              string     `json:"id"`
	AttestationType string     `json:"attestation_type,omitempty"`
	Transports      []string   `json:"transports,omitempty"`
	SignCount       uint32     `json:"sign_count"`
	BackupEligible  bool       `json:"backup_eligible"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
}

func newCredentialSummary(credential domain.Credential) CredentialSummary {
	return CredentialSummary{
		ID:              base64.RawURLEncoding.EncodeToString(credential.ID),
		AttestationType: credential.AttestationType,
		Transports:      credential.Transports,
		SignCount:       credential.SignCount,
		BackupEligible:  credential.BackupEligible,
		CreatedAt:       credential.CreatedAt,
		LastUsedAt:      credential.LastUsedAt,
	}
}

// CredentialListResponse lists a user's passkeys.
type CredentialListResponse struct {
	Credentials []CredentialSummary `json:"credentials"`
}

package domain

import "time"

// Audit event types emitted on authentication state transitions.
const (
	AuditLogin               = "auth.login"
	AuditRefresh             = "auth.refresh"
	AuditRefreshReplayed     = "auth.refresh.replayed"
	AuditSessionRevoked      = "auth.session.revoked"
	AuditMFAEnrolled         = "auth.mfa.enrolled"
	AuditMFAEnabled          = "auth.mfa.enabled"
	AuditMFAVerified         = "auth.mfa.verified"
	AuditMFAFailed           = "auth.mfa.failed"
	AuditMFABackupUsed       = "auth.mfa.backup_used"
	AuditMFABackupRegenerate = "auth.mfa.backup_regenerated"
	AuditMFADisabled         = "auth.mfa.disabled"
	AuditWebAuthnRegistered  = "auth.webauthn.registered"
	AuditWebAuthnLogin       = "auth.webauthn.login"
	AuditWebAuthnFailed      = "auth.webauthn.failed"
	AuditWebAuthnCloned      = "auth.webauthn.cloned"
	AuditWebAuthnRemoved     = "auth.webauthn.removed"
	AuditRateLimited         = "auth.rate_limited"
)

// AuditEvent is a fire-and-forget record of a security relevant transition.
type AuditEvent struct {
	EventID    string
	Type       string
	UserID     string
	SessionID  string
	IP         string
	OccurredAt time.Time
	Metadata   map[string]any
}

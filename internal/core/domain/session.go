package domain

import "time"

// Session revocation reasons recorded on the session hash.
const (
	RevokeReasonLogout       = "logout"
	RevokeReasonReplay       = "refresh_replay"
	RevokeReasonLogoutAll    = "logout_all"
	RevokeReasonAdminRequest = "admin"
)

// DeviceInfo describes the client presenting credentials.
type DeviceInfo struct {
	Fingerprint string
	Label       string
	IP          string
	UserAgent   string
}

// Session represents a login session bound to a device and a single live refresh token.
type Session struct {
	ID                string
	UserID            string
	DeviceFingerprint string
	DeviceLabel       string
	IP                string
	UserAgent         string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	Revoked           bool
	RevokedAt         *time.Time
	RevokeReason      string
	RefreshHash       string
	Generation        int64
}

// IsExpired reports whether the session lifetime elapsed at the supplied moment.
func (s Session) IsExpired(at time.Time) bool {
	return !s.ExpiresAt.After(at)
}

// IsActive reports whether the session is still valid (not revoked and not expired at the supplied moment).
func (s Session) IsActive(at time.Time) bool {
	if s.Revoked {
		return false
	}
	return !s.IsExpired(at)
}

// Revoke marks the session as revoked.
// Returns true when the session changed state.
func (s *Session) Revoke(at time.Time, reason string) bool {
	if s.Revoked {
		return false
	}
	s.Revoked = true
	s.RevokedAt = &at
	s.RevokeReason = reason
	return true
}

// Touch records refresh activity from the supplied device.
func (s *Session) Touch(at time.Time, device DeviceInfo) {
	s.LastActivityAt = at
	if device.IP != "" {
		s.IP = device.IP
	}
	if device.UserAgent != "" {
		s.UserAgent = device.UserAgent
	}
}

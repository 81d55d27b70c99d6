package domain

import "time"

// Endpoint classes with their own rate limit windows.
const (
	RateClassLogin         = "login"
	RateClassRefresh       = "refresh"
	RateClassMFAVerify     = "mfa_verify"
	RateClassPasswordReset = "password_reset"
	RateClassWebAuthn      = "webauthn"
)

// Bucket identifies one rate limit counter.
type Bucket struct {
	Identity string
	Class    string
}

// Key renders the bucket as a stable string.
func (b Bucket) Key() string {
	return b.Class + ":" + b.Identity
}

// RateWindow describes the sliding window state after a hit.
type RateWindow struct {
	BucketKey   string
	WindowStart time.Time
	Count       int
}

// RateDecision is the result of a rate limit check.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Reset      time.Time
	Degraded   bool
}

package domain

import "time"

// CeremonyType distinguishes WebAuthn registration from authentication.
type CeremonyType string

const (
	CeremonyRegistration   CeremonyType = "registration"
	CeremonyAuthentication CeremonyType = "authentication"
)

// Valid reports whether the ceremony type is known.
func (t CeremonyType) Valid() bool {
	return t == CeremonyRegistration || t == CeremonyAuthentication
}

// WebAuthnChallenge is a pending ceremony. It may be verified at most once and only before ExpiresAt.
type WebAuthnChallenge struct {
	ID          string
	UserID      string
	Challenge   string
	Type        CeremonyType
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Consumed    bool
	SessionData []byte
}

// IsExpired reports whether the ceremony window has closed.
func (c WebAuthnChallenge) IsExpired(at time.Time) bool {
	return !c.ExpiresAt.After(at)
}

// Credential is a registered passkey.
type Credential struct {
	ID              []byte
	UserID          string
	PublicKey       []byte
	AttestationType string
	AAGUID          []byte
	SignCount       uint32
	Transports      []string
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// AcceptsCounter reports whether next is a valid successor to the stored signature counter.
// Authenticators that never implement counters report zero forever; that pair is tolerated
// unless strict is set.
func (c Credential) AcceptsCounter(next uint32, strict bool) bool {
	if !strict && c.SignCount == 0 && next == 0 {
		return true
	}
	return next > c.SignCount
}

// CeremonyStart is returned when a ceremony begins.
type CeremonyStart struct {
	ChallengeID string
	Options     any
	ExpiresAt   time.Time
}

// PasskeyLogin is the outcome of a successful assertion.
type PasskeyLogin struct {
	UserID       string
	CredentialID []byte
	SignCount    uint32
}

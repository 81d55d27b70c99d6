package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// ChallengeStore persists pending WebAuthn ceremonies.
type ChallengeStore interface {
	Save(ctx context.Context, challenge domain.WebAuthnChallenge) error
	Get(ctx context.Context, challengeID string) (*domain.WebAuthnChallenge, error)
	// Consume atomically marks the challenge used. It returns false when another caller got there first.
	Consume(ctx context.Context, challengeID string) (bool, error)
}

// CredentialStore persists registered passkeys.
type CredentialStore interface {
	Save(ctx context.Context, credential domain.Credential) error
	Get(ctx context.Context, credentialID []byte) (*domain.Credential, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Credential, error)
	Delete(ctx context.Context, userID string, credentialID []byte) error
	// AdvanceCounter moves the signature counter from expected to next atomically.
	AdvanceCounter(ctx context.Context, credentialID []byte, expected, next uint32, at time.Time) (bool, error)
}

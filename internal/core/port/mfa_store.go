package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// MFAStore persists TOTP enrollments, used-step markers and backup codes.
type MFAStore interface {
	SaveEnrollment(ctx context.Context, enrollment domain.MFAEnrollment) error
	GetEnrollment(ctx context.Context, userID string) (*domain.MFAEnrollment, error)
	SetEnabled(ctx context.Context, userID string, at time.Time) error
	DeleteEnrollment(ctx context.Context, userID string) error
	ClaimStep(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	CountBackupCodes(ctx context.Context, userID string) (int, error)
}

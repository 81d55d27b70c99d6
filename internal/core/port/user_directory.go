package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// UserDirectory is the external source of user profiles.
type UserDirectory interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error
	RecordSession(ctx context.Context, userID, sessionID string, at time.Time) error
}

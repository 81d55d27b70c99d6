package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// RefreshRotation describes one refresh token exchange.
type RefreshRotation struct {
	SessionID    string
	ExpectedHash string
	NextHash     string
	Generation   int64
	Device       domain.DeviceInfo
	At           time.Time
}

// SessionStore persists sessions in the resilient cache.
type SessionStore interface {
	Create(ctx context.Context, session domain.Session) error
	// Get returns the session and whether the read came from the remote cache.
	Get(ctx context.Context, sessionID string) (*domain.Session, bool, error)
	// RotateRefresh swaps the stored refresh hash only when it still equals ExpectedHash.
	RotateRefresh(ctx context.Context, rotation RefreshRotation) (bool, error)
	Revoke(ctx context.Context, sessionID, reason string, at time.Time) error
	ListByUser(ctx context.Context, userID string) ([]domain.Session, error)
}

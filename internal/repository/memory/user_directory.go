package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
)

var _ port.UserDirectory = (*UserDirectory)(nil)

// UserDirectory is a process-local directory for development. Unknown users are synthesized with
// the default roles on first lookup.
type UserDirectory struct {
	mu           sync.RWMutex
	profiles     map[string]domain.UserProfile
	sessions     map[string][]string
	defaultRoles []string
}

// NewUserDirectory seeds the directory with profiles.
func NewUserDirectory(defaultRoles []string, profiles ...domain.UserProfile) *UserDirectory {
	d := &UserDirectory{
		profiles:     make(map[string]domain.UserProfile, len(profiles)),
		sessions:     make(map[string][]string),
		defaultRoles: append([]string(nil), defaultRoles...),
	}
	for _, p := range profiles {
		d.profiles[p.ID] = p
	}
	return d
}

func (d *UserDirectory) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	profile, ok := d.profiles[userID]
	if !ok {
		profile = domain.UserProfile{
			ID:       userID,
			Username: userID,
			Roles:    append([]string(nil), d.defaultRoles...),
		}
		d.profiles[userID] = profile
	}
	profile.Roles = append([]string(nil), profile.Roles...)
	return &profile, nil
}

func (d *UserDirectory) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	if _, err := d.GetProfile(ctx, userID); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	profile := d.profiles[userID]
	profile.MFAEnabled = enabled
	d.profiles[userID] = profile
	return nil
}

func (d *UserDirectory) RecordSession(_ context.Context, userID, sessionID string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[userID] = append(d.sessions[userID], sessionID)
	return nil
}

// Sessions returns the session ids recorded for userID.
func (d *UserDirectory) Sessions(userID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.sessions[userID]...)
}

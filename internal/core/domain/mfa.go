package domain

import "time"

// MFAEnrollment is the TOTP state stored for a user.
type MFAEnrollment struct {
	UserID      string
	Secret      string
	Enabled     bool
	BackupCodes []string
	Salt        []byte
	CreatedAt   time.Time
	EnabledAt   *time.Time
}

// IsPending reports whether the enrollment awaits its first verified code.
func (e MFAEnrollment) IsPending() bool {
	return !e.Enabled
}

// Enable flips the enrollment on. Returns true when the state changed.
func (e *MFAEnrollment) Enable(at time.Time) bool {
	if e.Enabled {
		return false
	}
	e.Enabled = true
	e.EnabledAt = &at
	return true
}

// MFAEnrollmentResult is handed to the user exactly once at enrollment time.
type MFAEnrollmentResult struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// MFAStatus summarises a user's second factor state.
type MFAStatus struct {
	Enrolled             bool
	Enabled              bool
	BackupCodesRemaining int
	EnabledAt            *time.Time
}

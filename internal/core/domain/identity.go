package domain

// UserProfile is the slice of the user directory the engine consumes.
type UserProfile struct {
	ID          string
	Username    string
	DisplayName string
	Roles       []string
	MFAEnabled  bool
	Disabled    bool
}

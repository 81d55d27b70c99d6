package port

import "github.com/arklim/authcore/internal/core/domain"

// PasskeyUser is the account a WebAuthn ceremony runs for.
type PasskeyUser struct {
	ID          string
	Name        string
	DisplayName string
	Credentials []domain.Credential
}

// PasskeyCeremony holds freshly generated ceremony options plus the opaque state needed to finish it.
type PasskeyCeremony struct {
	Options     any
	Challenge   string
	SessionData []byte
}

// PasskeyAssertion is what a verified authentication response proves.
type PasskeyAssertion struct {
	CredentialID []byte
	SignCount    uint32
}

// PasskeyVerifier generates WebAuthn options and verifies authenticator responses.
type PasskeyVerifier interface {
	BeginRegistration(user PasskeyUser) (*PasskeyCeremony, error)
	FinishRegistration(user PasskeyUser, sessionData []byte, response []byte) (*domain.Credential, error)
	BeginLogin(user PasskeyUser) (*PasskeyCeremony, error)
	FinishLogin(user PasskeyUser, sessionData []byte, response []byte) (*PasskeyAssertion, error)
}

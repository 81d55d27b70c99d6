package passkey

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
)

// account adapts a port.PasskeyUser to the webauthn.User interface.
type account struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func newAccount(user port.PasskeyUser) *account {
	display := user.DisplayName
	if display == "" {
		display = user.Name
	}

	creds := make([]webauthn.Credential, 0, len(user.Credentials))
	for _, cred := range user.Credentials {
		creds = append(creds, fromDomain(cred))
	}

	return &account{
		id:          []byte(user.ID),
		name:        user.Name,
		displayName: display,
		credentials: creds,
	}
}

func (a *account) WebAuthnID() []byte                         { return a.id }
func (a *account) WebAuthnName() string                       { return a.name }
func (a *account) WebAuthnDisplayName() string                { return a.displayName }
func (a *account) WebAuthnCredentials() []webauthn.Credential { return a.credentials }

func fromDomain(cred domain.Credential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(cred.Transports))
	for _, t := range cred.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:              cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: cred.BackupEligible,
			BackupState:    cred.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    cred.AAGUID,
			SignCount: cred.SignCount,
		},
	}
}

func toDomain(userID string, cred *webauthn.Credential) domain.Credential {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	return domain.Credential{
		ID:              cred.ID,
		UserID:          userID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      transports,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}
}

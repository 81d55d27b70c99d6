package passkey

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
)

var _ port.PasskeyVerifier = (*Verifier)(nil)

// Config names the relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	Timeout       time.Duration
}

// Verifier runs WebAuthn ceremonies through go-webauthn. It holds no ceremony state; session
// data round-trips through the caller as JSON.
type Verifier struct {
	wa *webauthn.WebAuthn
}

// NewVerifier validates the relying party configuration.
func NewVerifier(cfg Config) (*Verifier, error) {
	timeouts := webauthn.TimeoutConfig{Timeout: cfg.Timeout, TimeoutUVD: cfg.Timeout}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeouts,
			Registration: timeouts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Verifier{wa: wa}, nil
}

// BeginRegistration creates options that exclude the user's existing credentials.
func (v *Verifier) BeginRegistration(user port.PasskeyUser) (*port.PasskeyCeremony, error) {
	account := newAccount(user)

	exclusions := make([]protocol.CredentialDescriptor, 0, len(account.credentials))
	for _, cred := range account.credentials {
		exclusions = append(exclusions, cred.Descriptor())
	}

	options, session, err := v.wa.BeginRegistration(account, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	return ceremony(options, session)
}

// FinishRegistration verifies an attestation response against the stored session data.
func (v *Verifier) FinishRegistration(user port.PasskeyUser, sessionData []byte, response []byte) (*domain.Credential, error) {
	session, err := decodeSession(sessionData)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: parse attestation: %v", domain.ErrAuthentication, describe(err))
	}

	cred, err := v.wa.CreateCredential(newAccount(user), *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: verify attestation: %v", domain.ErrAuthentication, describe(err))
	}

	out := toDomain(user.ID, cred)
	return &out, nil
}

// BeginLogin creates assertion options restricted to the user's credentials.
func (v *Verifier) BeginLogin(user port.PasskeyUser) (*port.PasskeyCeremony, error) {
	if len(user.Credentials) == 0 {
		return nil, fmt.Errorf("%w: no passkeys registered", domain.ErrAuthentication)
	}

	options, session, err := v.wa.BeginLogin(newAccount(user))
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}
	return ceremony(options, session)
}

// FinishLogin verifies an assertion signature. Counter policy is left to the caller.
func (v *Verifier) FinishLogin(user port.PasskeyUser, sessionData []byte, response []byte) (*port.PasskeyAssertion, error) {
	session, err := decodeSession(sessionData)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: parse assertion: %v", domain.ErrAuthentication, describe(err))
	}

	cred, err := v.wa.ValidateLogin(newAccount(user), *session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: verify assertion: %v", domain.ErrAuthentication, describe(err))
	}

	return &port.PasskeyAssertion{
		CredentialID: cred.ID,
		SignCount:    parsed.Response.AuthenticatorData.Counter,
	}, nil
}

func ceremony(options any, session *webauthn.SessionData) (*port.PasskeyCeremony, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("encode ceremony session: %w", err)
	}
	return &port.PasskeyCeremony{
		Options:     options,
		Challenge:   session.Challenge,
		SessionData: data,
	}, nil
}

func decodeSession(data []byte) (*webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decode ceremony session: %w", err)
	}
	return &session, nil
}

// describe unwraps protocol errors so the log line carries the library's detail string.
func describe(err error) string {
	if perr, ok := err.(*protocol.Error); ok && perr.DevInfo != "" {
		return perr.Details + ": " + perr.DevInfo
	}
	return err.Error()
}

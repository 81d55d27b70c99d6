// Package passkeytest provides a software WebAuthn authenticator for tests.
package passkeytest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	flagUserPresent  byte = 0x01
	flagUserVerified byte = 0x04
	flagAttested     byte = 0x40

	coseKeyTypeEC2 = 2
	coseAlgES256   = -7
	coseCurveP256  = 1
)

type coseKey struct {
	KeyType   int    `cbor:"1,keyasint"`
	Algorithm int    `cbor:"3,keyasint"`
	Curve     int    `cbor:"-1,keyasint"`
	X         []byte `cbor:"-2,keyasint"`
	Y         []byte `cbor:"-3,keyasint"`
}

type attestationObject struct {
	Format       string         `cbor:"fmt"`
	AttStatement map[string]any `cbor:"attStmt"`
	AuthData     []byte         `cbor:"authData"`
}

type clientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin"`
}

// Authenticator is a single ES256 credential that answers "none" attestations and assertions.
type Authenticator struct {
	RPID   string
	Origin string

	// StaticCounter keeps the signature counter at its current value instead of incrementing it.
	StaticCounter bool

	key          *ecdsa.PrivateKey
	credentialID []byte
	counter      uint32
}

// New creates an authenticator with a fresh P-256 key and random credential id.
func New(rpID, origin string) (*Authenticator, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	id := make([]byte, 32)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("generate credential id: %w", err)
	}
	return &Authenticator{RPID: rpID, Origin: origin, key: key, credentialID: id}, nil
}

// CredentialID returns the raw credential id.
func (a *Authenticator) CredentialID() []byte {
	return append([]byte(nil), a.credentialID...)
}

// Counter returns the last counter value the authenticator signed.
func (a *Authenticator) Counter() uint32 {
	return a.counter
}

// SetCounter overrides the signature counter, e.g. to emulate a cloned authenticator.
func (a *Authenticator) SetCounter(n uint32) {
	a.counter = n
}

// Attest answers navigator.credentials.create for challenge.
func (a *Authenticator) Attest(challenge string) ([]byte, error) {
	clientJSON, err := a.clientData("webauthn.create", challenge)
	if err != nil {
		return nil, err
	}

	publicKey, err := cbor.Marshal(coseKey{
		KeyType:   coseKeyTypeEC2,
		Algorithm: coseAlgES256,
		Curve:     coseCurveP256,
		X:         a.key.PublicKey.X.FillBytes(make([]byte, 32)),
		Y:         a.key.PublicKey.Y.FillBytes(make([]byte, 32)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode cose key: %w", err)
	}

	authData := a.authData(flagUserPresent | flagUserVerified | flagAttested)
	authData = append(authData, make([]byte, 16)...)
	authData = binary.BigEndian.AppendUint16(authData, uint16(len(a.credentialID)))
	authData = append(authData, a.credentialID...)
	authData = append(authData, publicKey...)

	attestation, err := cbor.Marshal(attestationObject{
		Format:       "none",
		AttStatement: map[string]any{},
		AuthData:     authData,
	})
	if err != nil {
		return nil, fmt.Errorf("encode attestation object: %w", err)
	}

	return a.credential(map[string]any{
		"clientDataJSON":    encode(clientJSON),
		"attestationObject": encode(attestation),
		"transports":        []string{"internal"},
	})
}

// Assert answers navigator.credentials.get for challenge, signing as userHandle.
func (a *Authenticator) Assert(challenge string, userHandle []byte) ([]byte, error) {
	if !a.StaticCounter {
		a.counter++
	}

	clientJSON, err := a.clientData("webauthn.get", challenge)
	if err != nil {
		return nil, err
	}

	authData := a.authData(flagUserPresent | flagUserVerified)
	clientHash := sha256.Sum256(clientJSON)
	digest := sha256.Sum256(append(append([]byte(nil), authData...), clientHash[:]...))

	signature, err := ecdsa.SignASN1(rand.Reader, a.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign assertion: %w", err)
	}

	return a.credential(map[string]any{
		"clientDataJSON":    encode(clientJSON),
		"authenticatorData": encode(authData),
		"signature":         encode(signature),
		"userHandle":        encode(userHandle),
	})
}

func (a *Authenticator) clientData(kind, challenge string) ([]byte, error) {
	raw, err := json.Marshal(clientData{Type: kind, Challenge: challenge, Origin: a.Origin})
	if err != nil {
		return nil, fmt.Errorf("encode client data: %w", err)
	}
	return raw, nil
}

func (a *Authenticator) authData(flags byte) []byte {
	rpHash := sha256.Sum256([]byte(a.RPID))
	out := make([]byte, 0, 37)
	out = append(out, rpHash[:]...)
	out = append(out, flags)
	return binary.BigEndian.AppendUint32(out, a.counter)
}

func (a *Authenticator) credential(response map[string]any) ([]byte, error) {
	id := encode(a.credentialID)
	return json.Marshal(map[string]any{
		"id":       id,
		"rawId":    id,
		"type":     "public-key",
		"response": response,
	})
}

func encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

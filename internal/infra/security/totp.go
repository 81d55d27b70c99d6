package security

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod     uint = 30
	totpSecretSize uint = 20
	totpDigits          = otp.DigitsSix
	totpAlgorithm       = otp.AlgorithmSHA1
)

// ErrMissingSecret is returned when secret is empty.
var ErrMissingSecret = fmt.Errorf("totp secret is required")

// TOTPKey is a freshly generated shared secret and its otpauth:// URI.
type TOTPKey struct {
	Secret          string
	ProvisioningURI string
}

// TOTP generates RFC 6238 secrets and matches codes to 30 second time steps.
type TOTP struct {
	issuer string
	skew   uint
}

// NewTOTP returns a TOTP that accepts codes up to skew steps either side of the current one.
func NewTOTP(issuer string, skew uint) *TOTP {
	return &TOTP{issuer: issuer, skew: skew}
}

// Period is the step length.
func (t *TOTP) Period() time.Duration {
	return time.Duration(totpPeriod) * time.Second
}

// Generate creates a new secret for accountName.
func (t *TOTP) Generate(accountName string) (TOTPKey, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      totpDigits,
		Algorithm:   totpAlgorithm,
	})
	if err != nil {
		return TOTPKey{}, fmt.Errorf("generate totp key: %w", err)
	}
	return TOTPKey{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// Step returns the time step containing at.
func (t *TOTP) Step(at time.Time) int64 {
	return at.Unix() / int64(totpPeriod)
}

// CodeAt returns the code valid during step.
func (t *TOTP) CodeAt(secret string, step int64) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}
	return totp.GenerateCodeCustom(secret, time.Unix(step*int64(totpPeriod), 0).UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    totpDigits,
		Algorithm: totpAlgorithm,
	})
}

// Match compares code against every step in the skew window around at and returns the matching
// step. All candidates are compared even after a hit.
func (t *TOTP) Match(secret, code string, at time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != totpDigits.Length() {
		return 0, false, nil
	}

	current := t.Step(at)
	var (
		matched int64
		found   bool
	)
	for offset := -int64(t.skew); offset <= int64(t.skew); offset++ {
		step := current + offset
		expected, err := t.CodeAt(secret, step)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && !found {
			matched, found = step, true
		}
	}
	return matched, found, nil
}

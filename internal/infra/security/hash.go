package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/arklim/authcore/internal/core/port"
)

// DefaultArgon2Params follows the OWASP baseline for Argon2id.
var DefaultArgon2Params = port.Argon2Params{
	Memory:      19 * 1024,
	Iterations:  2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Argon2BackupHasher hashes backup codes with Argon2id under a per-enrollment salt. The same
// code and salt always give the same digest so a stored set can be probed with SREM.
type Argon2BackupHasher struct {
	params port.Argon2Params
}

// NewArgon2BackupHasher validates params and returns a hasher.
func NewArgon2BackupHasher(params port.Argon2Params) (*Argon2BackupHasher, error) {
	if params.Memory < 8*1024 {
		return nil, fmt.Errorf("argon2: memory must be at least 8192")
	}
	if params.Iterations == 0 {
		return nil, fmt.Errorf("argon2: iterations must be greater than zero")
	}
	if params.Parallelism == 0 {
		return nil, fmt.Errorf("argon2: parallelism must be greater than zero")
	}
	if params.SaltLength < 8 {
		return nil, fmt.Errorf("argon2: salt length must be at least 8 bytes")
	}
	if params.KeyLength < 16 {
		return nil, fmt.Errorf("argon2: key length must be at least 16 bytes")
	}
	return &Argon2BackupHasher{params: params}, nil
}

// NewSalt returns SaltLength random bytes.
func (h *Argon2BackupHasher) NewSalt() ([]byte, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("argon2: generate salt: %w", err)
	}
	return salt, nil
}

// Hash derives the stored digest for a backup code.
func (h *Argon2BackupHasher) Hash(code string, salt []byte) string {
	sum := argon2.IDKey([]byte(NormalizeBackupCode(code)), salt, h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	return base64.RawStdEncoding.EncodeToString(sum)
}

var _ port.BackupCodeHasher = (*Argon2BackupHasher)(nil)

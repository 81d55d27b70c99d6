package port

// Argon2Params captures tunable parameters for the Argon2id hashing algorithm.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// BackupCodeHasher derives deterministic digests for one-time backup codes.
type BackupCodeHasher interface {
	NewSalt() ([]byte, error)
	Hash(code string, salt []byte) string
}

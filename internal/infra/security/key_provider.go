package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrNoSigningKey      = errors.New("no private key found for signing")
	ErrKeyDirectoryUnset = errors.New("key directory is required in production")
)

// KeyProvider defines the interface for providing cryptographic keys.
type KeyProvider interface {
	GetSigningKey() (*rsa.PrivateKey, error)
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
	VerificationKeys() map[string]*rsa.PublicKey
}

// FileKeyProvider loads PEM encoded RSA keys from a directory. The file name without
// extension is the kid.
type FileKeyProvider struct {
	keys       map[string]*rsa.PublicKey
	signingKey *rsa.PrivateKey
}

// NewFileKeyProvider reads every key in keyDir. The private key named after activeKID signs;
// when no such file exists the first private key in name order is used.
func NewFileKeyProvider(keyDir, activeKID string) (*FileKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	provider := &FileKeyProvider{keys: make(map[string]*rsa.PublicKey)}
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		path := filepath.Join(keyDir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}

		private, public, err := parsePEMKey(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		provider.keys[kid] = public
		if private != nil && (provider.signingKey == nil || kid == activeKID) {
			provider.signingKey = private
		}
	}

	if provider.signingKey == nil {
		return nil, ErrNoSigningKey
	}
	return provider, nil
}

func parsePEMKey(data []byte) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, &key.PublicKey, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, &rsaKey.PublicKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return nil, key, nil
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return nil, rsaKey, nil
		}
	}
	return nil, nil, errors.New("unsupported key encoding")
}

// GetSigningKey returns the private key for signing tokens.
func (p *FileKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.signingKey, nil
}

// GetVerificationKey returns the public key for verifying tokens.
func (p *FileKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// VerificationKeys lists every public key loaded from disk.
func (p *FileKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

// StaticKeyProvider serves a single in-memory key pair.
type StaticKeyProvider struct {
	kid string
	key *rsa.PrivateKey
}

// NewStaticKeyProvider wraps an existing private key under kid.
func NewStaticKeyProvider(kid string, key *rsa.PrivateKey) *StaticKeyProvider {
	return &StaticKeyProvider{kid: kid, key: key}
}

// NewEphemeralKeyProvider generates a throwaway 2048-bit key. Tokens it signs do not survive a restart.
func NewEphemeralKeyProvider(kid string) (*StaticKeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return NewStaticKeyProvider(kid, key), nil
}

func (p *StaticKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.key, nil
}

func (p *StaticKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid != p.kid {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return &p.key.PublicKey, nil
}

func (p *StaticKeyProvider) VerificationKeys() map[string]*rsa.PublicKey {
	return map[string]*rsa.PublicKey{p.kid: &p.key.PublicKey}
}

// NewKeyProvider loads keys from keyDir. Outside production a missing directory falls back to an
// ephemeral key; the second return value reports that fallback.
func NewKeyProvider(env, keyDir, kid string) (KeyProvider, bool, error) {
	keyDir = strings.TrimSpace(keyDir)
	if keyDir != "" {
		if _, err := os.Stat(keyDir); err == nil {
			provider, err := NewFileKeyProvider(keyDir, kid)
			if err != nil {
				return nil, false, err
			}
			return provider, false, nil
		}
	}

	if env == "production" {
		return nil, false, ErrKeyDirectoryUnset
	}

	provider, err := NewEphemeralKeyProvider(kid)
	if err != nil {
		return nil, false, err
	}
	return provider, true, nil
}

package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/authcore/internal/core/domain"
)

// ErrKeyIDMissing indicates no kid is associated with the supplied key.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// ErrKeyNotRegistered indicates a supplied kid is unknown to the JWT manager.
var ErrKeyNotRegistered = errors.New("jwt: key not registered")

const defaultAccessTokenTTL = 15 * time.Minute

// JWTOptions configures how access tokens are minted and which claims are enforced on parse.
type JWTOptions struct {
	KeyID    string
	Issuer   string
	Audience []string
	TTL      time.Duration
	Clock    func() time.Time
}

// JWTManager signs RS256 access tokens with the provider's active key and verifies them offline.
type JWTManager struct {
	provider KeyProvider
	kid      string
	issuer   string
	audience []string
	ttl      time.Duration
	now      func() time.Time

	mu         sync.RWMutex
	publicKeys map[string]*rsa.PublicKey
}

// NewJWTManager constructs a JWTManager for the supplied key provider.
func NewJWTManager(provider KeyProvider, opts JWTOptions) (*JWTManager, error) {
	if provider == nil {
		return nil, fmt.Errorf("jwt: key provider not configured")
	}
	kid := strings.TrimSpace(opts.KeyID)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}

	mgr := &JWTManager{
		provider:   provider,
		kid:        kid,
		issuer:     issuer,
		audience:   cleanStrings(opts.Audience),
		ttl:        opts.TTL,
		now:        opts.Clock,
		publicKeys: make(map[string]*rsa.PublicKey),
	}
	if mgr.ttl <= 0 {
		mgr.ttl = defaultAccessTokenTTL
	}
	if mgr.now == nil {
		mgr.now = func() time.Time { return time.Now().UTC() }
	}

	for id, key := range provider.VerificationKeys() {
		if err := mgr.RegisterPublicKey(id, key); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// TTL reports the lifetime given to new access tokens.
func (m *JWTManager) TTL() time.Duration {
	return m.ttl
}

// RegisterPublicKey associates a kid with a public key for JWKS publication and future lookup.
func (m *JWTManager) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("jwt: public key for %s is nil", kid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[kid] = key
	return nil
}

// GetVerificationKey retrieves a public key by kid.
func (m *JWTManager) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	fetched, err := m.provider.GetVerificationKey(kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
	}
	_ = m.RegisterPublicKey(kid, fetched)
	return fetched, nil
}

// JWKS produces the JSON Web Key Set for registered keys, ordered by kid.
func (m *JWTManager) JWKS() ([]byte, error) {
	m.mu.RLock()
	kids := make([]string, 0, len(m.publicKeys))
	for kid := range m.publicKeys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)

	keys := make([]map[string]string, 0, len(kids))
	for _, kid := range kids {
		keys = append(keys, buildJWK(kid, m.publicKeys[kid]))
	}
	m.mu.RUnlock()

	return json.Marshal(map[string]any{"keys": keys})
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// AccessTokenClaims carries roles and the session binding next to the registered claims.
type AccessTokenClaims struct {
	Roles     []string `json:"roles,omitempty"`
	UserID    string   `json:"uid"`
	SessionID string   `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenOptions describes the subject of a new access token.
type AccessTokenOptions struct {
	UserID    string
	SessionID string
	Roles     []string
	IssuedAt  time.Time
	JTI       string
}

// SignAccessToken builds claims for the subject and signs them with the active key.
func (m *JWTManager) SignAccessToken(opts AccessTokenOptions) (string, *AccessTokenClaims, error) {
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return "", nil, fmt.Errorf("jwt: user id is required")
	}

	issuedAt := opts.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = m.now()
	}
	issuedAt = issuedAt.UTC()

	jti := strings.TrimSpace(opts.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := &AccessTokenClaims{
		Roles:     normalizeRoles(opts.Roles),
		UserID:    userID,
		SessionID: strings.TrimSpace(opts.SessionID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
			ID:        jti,
		},
	}

	signingKey, err := m.provider.GetSigningKey()
	if err != nil {
		return "", nil, fmt.Errorf("jwt: get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", nil, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, claims, nil
}

// ParseAccessToken checks signature, expiry, issuer and audience without touching any store.
func (m *JWTManager) ParseAccessToken(token string) (*AccessTokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrAuthentication)
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
	}
	if len(m.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(m.audience[0]))
	}

	claims := &AccessTokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if strings.TrimSpace(kid) == "" {
			return nil, ErrKeyIDMissing
		}
		return m.GetVerificationKey(kid)
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: access token expired", domain.ErrExpired)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	if parsed == nil || !parsed.Valid || strings.TrimSpace(claims.UserID) == "" {
		return nil, fmt.Errorf("%w: malformed access token", domain.ErrAuthentication)
	}

	return claims, nil
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, role := range input {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		result = append(result, role)
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

func cleanStrings(input []string) []string {
	out := make([]string, 0, len(input))
	for _, s := range input {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

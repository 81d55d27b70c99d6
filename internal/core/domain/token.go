package domain

import (
	"strings"
	"time"
)

// TokenTypeBearer is the token_type returned with every pair.
const TokenTypeBearer = "Bearer"

// TokenPair is returned by issue and refresh flows.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// ExpiresIn returns the access token lifetime in whole seconds relative to IssuedAt.
func (p TokenPair) ExpiresIn() int64 {
	return int64(p.ExpiresAt.Sub(p.IssuedAt) / time.Second)
}

// RefreshTokenSeparator joins the session id and the random part of a refresh token.
const RefreshTokenSeparator = "."

// FormatRefreshToken builds the opaque refresh token handed to clients.
func FormatRefreshToken(sessionID, secret string) string {
	return sessionID + RefreshTokenSeparator + secret
}

// ParseRefreshToken splits a refresh token into its session id and random part.
func ParseRefreshToken(token string) (sessionID, secret string, ok bool) {
	sessionID, secret, ok = strings.Cut(strings.TrimSpace(token), RefreshTokenSeparator)
	if !ok || sessionID == "" || secret == "" {
		return "", "", false
	}
	return sessionID, secret, true
}

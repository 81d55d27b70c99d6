package redis

import (
	"strconv"
	"strings"
)

const defaultKeyPrefix = "authcore"

// Keys builds the key layout shared by every store.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder rooted at prefix.
func NewKeys(prefix string) Keys {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return Keys{prefix: prefix}
}

func (k Keys) join(parts ...string) string {
	return k.prefix + ":" + strings.Join(parts, ":")
}

func (k Keys) Session(sessionID string) string { return k.join("session", sessionID) }

func (k Keys) UserSessions(userID string) string { return k.join("user_sessions", userID) }

func (k Keys) MFA(userID string) string { return k.join("mfa", userID) }

func (k Keys) MFABackupCodes(userID string) string { return k.join("mfa", "backup", userID) }

func (k Keys) MFAUsedStep(userID string, step int64) string {
	return k.join("mfa", "used", userID, strconv.FormatInt(step, 10))
}

func (k Keys) Challenge(challengeID string) string {
	return k.join("webauthn", "challenge", challengeID)
}

func (k Keys) Credential(encodedID string) string { return k.join("webauthn", "cred", encodedID) }

func (k Keys) UserCredentials(userID string) string { return k.join("webauthn", "user_creds", userID) }

func (k Keys) RateLimit(bucketKey string) string { return k.join("rl", bucketKey) }

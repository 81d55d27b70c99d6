package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

const (
	challengeFieldUserID      = "user_id"
	challengeFieldChallenge   = "challenge"
	challengeFieldType        = "type"
	challengeFieldCreatedAt   = "created_at"
	challengeFieldExpiresAt   = "expires_at"
	challengeFieldConsumed    = "consumed"
	challengeFieldSessionData = "session_data"

	// challengeRetention keeps expired ceremonies readable for a while so a late
	// completion is reported as expired rather than unknown.
	challengeRetention = time.Minute
)

var _ port.ChallengeStore = (*ChallengeStore)(nil)

// ChallengeStore persists pending WebAuthn ceremonies.
type ChallengeStore struct {
	cache port.Cache
	keys  Keys
}

// NewChallengeStore constructs a challenge store.
func NewChallengeStore(cache port.Cache, keys Keys) *ChallengeStore {
	return &ChallengeStore{cache: cache, keys: keys}
}

// Save writes an unconsumed challenge.
func (s *ChallengeStore) Save(ctx context.Context, challenge domain.WebAuthnChallenge) error {
	if challenge.ID == "" || !challenge.Type.Valid() {
		return fmt.Errorf("save challenge: %w", domain.ErrValidation)
	}
	ttl := challenge.ExpiresAt.Sub(challenge.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("save challenge: %w: non-positive lifetime", domain.ErrValidation)
	}

	key := s.keys.Challenge(challenge.ID)
	res := s.cache.HSet(ctx, key, map[string]string{
		challengeFieldUserID:      challenge.UserID,
		challengeFieldChallenge:   challenge.Challenge,
		challengeFieldType:        string(challenge.Type),
		challengeFieldCreatedAt:   formatTime(challenge.CreatedAt),
		challengeFieldExpiresAt:   formatTime(challenge.ExpiresAt),
		challengeFieldConsumed:    formatBool(false),
		challengeFieldSessionData: encodeBytes(challenge.SessionData),
	})
	if err := requireFresh("save challenge", res); err != nil {
		return err
	}
	return requireFresh("expire challenge", s.cache.Expire(ctx, key, ttl+challengeRetention))
}

// Get loads a challenge.
func (s *ChallengeStore) Get(ctx context.Context, challengeID string) (*domain.WebAuthnChallenge, error) {
	res := s.cache.HGetAll(ctx, s.keys.Challenge(challengeID))
	if res.Outcome == port.CacheUnavailable {
		return nil, requireFresh("get challenge", res)
	}
	if !res.Found || res.Value[challengeFieldChallenge] == "" {
		return nil, repository.ErrNotFound
	}

	fields := res.Value
	createdAt, err := parseTime(fields[challengeFieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode challenge created_at: %w", err)
	}
	expiresAt, err := parseTime(fields[challengeFieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("decode challenge expires_at: %w", err)
	}
	sessionData, err := decodeBytes(fields[challengeFieldSessionData])
	if err != nil {
		return nil, fmt.Errorf("decode challenge session data: %w", err)
	}

	return &domain.WebAuthnChallenge{
		ID:          challengeID,
		UserID:      fields[challengeFieldUserID],
		Challenge:   fields[challengeFieldChallenge],
		Type:        domain.CeremonyType(fields[challengeFieldType]),
		CreatedAt:   createdAt,
		ExpiresAt:   expiresAt,
		Consumed:    parseBool(fields[challengeFieldConsumed]),
		SessionData: sessionData,
	}, nil
}

// Consume flips consumed from 0 to 1. Exactly one caller observes true.
func (s *ChallengeStore) Consume(ctx context.Context, challengeID string) (bool, error) {
	res := s.cache.CompareAndSwapField(ctx, s.keys.Challenge(challengeID), challengeFieldConsumed, formatBool(false), formatBool(true))
	if err := requireFresh("consume challenge", res); err != nil {
		return false, err
	}
	return res.Value, nil
}

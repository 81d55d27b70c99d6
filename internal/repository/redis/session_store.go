package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

const (
	sessionFieldUserID      = "user_id"
	sessionFieldFingerprint = "device_fingerprint"
	sessionFieldLabel       = "device_label"
	sessionFieldIP          = "ip"
	sessionFieldUserAgent   = "user_agent"
	sessionFieldCreatedAt   = "created_at"
	sessionFieldExpiresAt   = "expires_at"
	sessionFieldLastActive  = "last_activity_at"
	sessionFieldRevoked     = "revoked"
	sessionFieldRevokedAt   = "revoked_at"
	sessionFieldReason      = "revoke_reason"
	sessionFieldRefreshHash = "refresh_hash"
	sessionFieldGeneration  = "generation"

	// revokedRefreshHash never matches a real digest, so in-flight rotations lose their CAS.
	revokedRefreshHash = "-"
)

var _ port.SessionStore = (*SessionStore)(nil)

// SessionStore keeps session hashes and a per-user session index in the resilient cache.
type SessionStore struct {
	cache port.Cache
	keys  Keys
}

// NewSessionStore constructs a session store.
func NewSessionStore(cache port.Cache, keys Keys) *SessionStore {
	return &SessionStore{cache: cache, keys: keys}
}

// Create writes the session hash and indexes it under its user. A degraded
// write still lands in the local fallback store and is reported as
// domain.ErrDependencyDegraded.
func (s *SessionStore) Create(ctx context.Context, session domain.Session) error {
	if session.ID == "" || session.UserID == "" {
		return fmt.Errorf("create session: %w: id and user are required", domain.ErrValidation)
	}
	ttl := session.ExpiresAt.Sub(session.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("create session: %w: non-positive lifetime", domain.ErrValidation)
	}

	key := s.keys.Session(session.ID)
	index := s.keys.UserSessions(session.UserID)

	var errs []error
	errs = append(errs, requireFresh("create session", s.cache.HSet(ctx, key, encodeSession(session))))
	errs = append(errs, requireFresh("expire session", s.cache.Expire(ctx, key, ttl)))
	errs = append(errs, requireFresh("index session", s.cache.SAdd(ctx, index, session.ID)))
	errs = append(errs, requireFresh("expire session index", s.cache.Expire(ctx, index, ttl)))
	return errors.Join(errs...)
}

// Get loads a session. fresh is false when the answer came from the fallback store.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, bool, error) {
	res := s.cache.HGetAll(ctx, s.keys.Session(sessionID))
	if res.Outcome == port.CacheUnavailable {
		return nil, false, requireFresh("get session", res)
	}
	if !res.Found {
		return nil, res.Fresh(), repository.ErrNotFound
	}

	session, err := decodeSession(sessionID, res.Value)
	if err != nil {
		return nil, res.Fresh(), err
	}
	return session, res.Fresh(), nil
}

// RotateRefresh swaps the refresh hash by compare-and-swap and records activity on success.
func (s *SessionStore) RotateRefresh(ctx context.Context, rotation port.RefreshRotation) (bool, error) {
	key := s.keys.Session(rotation.SessionID)

	res := s.cache.CompareAndSwapField(ctx, key, sessionFieldRefreshHash, rotation.ExpectedHash, rotation.NextHash)
	if err := requireFresh("rotate refresh token", res); err != nil {
		return false, err
	}
	if !res.Value {
		return false, nil
	}

	fields := map[string]string{
		sessionFieldLastActive: formatTime(rotation.At),
		sessionFieldGeneration: strconv.FormatInt(rotation.Generation, 10),
	}
	if rotation.Device.IP != "" {
		fields[sessionFieldIP] = rotation.Device.IP
	}
	if rotation.Device.UserAgent != "" {
		fields[sessionFieldUserAgent] = rotation.Device.UserAgent
	}
	// The rotation already happened; activity metadata is best effort.
	s.cache.HSet(ctx, key, fields)
	return true, nil
}

// Revoke marks the session revoked and invalidates its refresh hash.
func (s *SessionStore) Revoke(ctx context.Context, sessionID, reason string, at time.Time) error {
	res := s.cache.HSet(ctx, s.keys.Session(sessionID), map[string]string{
		sessionFieldRevoked:     formatBool(true),
		sessionFieldRevokedAt:   formatTime(at),
		sessionFieldReason:      reason,
		sessionFieldRefreshHash: revokedRefreshHash,
	})
	return requireFresh("revoke session", res)
}

// ListByUser returns the user's sessions, newest first. Index entries whose
// session has expired are pruned.
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	index := s.keys.UserSessions(userID)
	members := s.cache.SMembers(ctx, index)
	if members.Outcome == port.CacheUnavailable {
		return nil, requireFresh("list sessions", members)
	}

	sessions := make([]domain.Session, 0, len(members.Value))
	for _, id := range members.Value {
		session, fresh, err := s.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			if fresh {
				s.cache.SRem(ctx, index, id)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func encodeSession(session domain.Session) map[string]string {
	refreshHash := session.RefreshHash
	if session.Revoked {
		refreshHash = revokedRefreshHash
	}
	return map[string]string{
		sessionFieldUserID:      session.UserID,
		sessionFieldFingerprint: session.DeviceFingerprint,
		sessionFieldLabel:       session.DeviceLabel,
		sessionFieldIP:          session.IP,
		sessionFieldUserAgent:   session.UserAgent,
		sessionFieldCreatedAt:   formatTime(session.CreatedAt),
		sessionFieldExpiresAt:   formatTime(session.ExpiresAt),
		sessionFieldLastActive:  formatTime(session.LastActivityAt),
		sessionFieldRevoked:     formatBool(session.Revoked),
		sessionFieldRevokedAt:   formatTimePtr(session.RevokedAt),
		sessionFieldReason:      session.RevokeReason,
		sessionFieldRefreshHash: refreshHash,
		sessionFieldGeneration:  strconv.FormatInt(session.Generation, 10),
	}
}

func decodeSession(sessionID string, fields map[string]string) (*domain.Session, error) {
	userID := fields[sessionFieldUserID]
	if userID == "" {
		// A partial hash left behind by a degraded write is not a session.
		return nil, repository.ErrNotFound
	}

	createdAt, err := parseTime(fields[sessionFieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode session created_at: %w", err)
	}
	expiresAt, err := parseTime(fields[sessionFieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("decode session expires_at: %w", err)
	}
	lastActivity, err := parseTime(fields[sessionFieldLastActive])
	if err != nil {
		return nil, fmt.Errorf("decode session last_activity_at: %w", err)
	}
	revokedAt, err := parseTimePtr(fields[sessionFieldRevokedAt])
	if err != nil {
		return nil, fmt.Errorf("decode session revoked_at: %w", err)
	}

	var generation int64
	if raw := fields[sessionFieldGeneration]; raw != "" {
		generation, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode session generation: %w", err)
		}
	}

	return &domain.Session{
		ID:                sessionID,
		UserID:            userID,
		DeviceFingerprint: fields[sessionFieldFingerprint],
		DeviceLabel:       fields[sessionFieldLabel],
		IP:                fields[sessionFieldIP],
		UserAgent:         fields[sessionFieldUserAgent],
		CreatedAt:         createdAt,
		ExpiresAt:         expiresAt,
		LastActivityAt:    lastActivity,
		Revoked:           parseBool(fields[sessionFieldRevoked]),
		RevokedAt:         revokedAt,
		RevokeReason:      fields[sessionFieldReason],
		RefreshHash:       fields[sessionFieldRefreshHash],
		Generation:        generation,
	}, nil
}

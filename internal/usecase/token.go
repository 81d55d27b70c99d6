package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/logger"
	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/repository"
)

const (
	refreshSecretBytes       = 32
	defaultRefreshSessionTTL = 30 * 24 * time.Hour
)

// TokenService issues access/refresh token pairs and rotates refresh tokens against the session store.
type TokenService struct {
	jwt        *security.JWTManager
	sessions   port.SessionStore
	users      port.UserDirectory
	audit      port.AuditSink
	refreshTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(
	cfg config.JWTSettings,
	jwtManager *security.JWTManager,
	sessions port.SessionStore,
	users port.UserDirectory,
	audit port.AuditSink,
	logger *zap.Logger,
) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}

	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshSessionTTL
	}

	service := &TokenService{
		jwt:        jwtManager,
		sessions:   sessions,
		users:      users,
		audit:      audit,
		refreshTTL: refreshTTL,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Issue opens a session for userID and returns its first token pair.
// A session write the cache could only apply locally does not fail the login;
// the first refresh of such a session fails closed instead.
func (s *TokenService) Issue(ctx context.Context, userID string, device domain.DeviceInfo) (*domain.TokenPair, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	profile, err := s.activeProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().Truncate(time.Second)
	sessionID := uuid.NewString()
	refreshToken, refreshHash, err := newRefreshToken(sessionID)
	if err != nil {
		return nil, err
	}

	session := domain.Session{
		ID:                sessionID,
		UserID:            userID,
		DeviceFingerprint: strings.TrimSpace(device.Fingerprint),
		DeviceLabel:       strings.TrimSpace(device.Label),
		IP:                device.IP,
		UserAgent:         device.UserAgent,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.refreshTTL),
		LastActivityAt:    now,
		RefreshHash:       refreshHash,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		if !errors.Is(err, domain.ErrDependencyDegraded) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		s.logger.Warn("session stored in degraded mode",
			zap.String("session_id", sessionID),
			zap.String("user_id", logger.MaskString(userID)),
			zap.Error(err),
		)
	}

	accessToken, claims, err := s.jwt.SignAccessToken(security.AccessTokenOptions{
		UserID:    userID,
		SessionID: sessionID,
		Roles:     profile.Roles,
		IssuedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	if s.users != nil {
		if err := s.users.RecordSession(ctx, userID, sessionID, now); err != nil {
			s.logger.Warn("record session in user directory", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditLogin,
		UserID:     userID,
		SessionID:  sessionID,
		IP:         device.IP,
		OccurredAt: now,
		Metadata:   map[string]any{"device_label": session.DeviceLabel},
	})

	return &domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        domain.TokenTypeBearer,
		IssuedAt:         now,
		ExpiresAt:        claims.ExpiresAt.Time,
		RefreshExpiresAt: session.ExpiresAt,
		SessionID:        sessionID,
	}, nil
}

// VerifyAccess validates an access token offline.
func (s *TokenService) VerifyAccess(token string) (*security.AccessTokenClaims, error) {
	return s.jwt.ParseAccessToken(token)
}

// Refresh exchanges a refresh token for a new pair. The stored hash is swapped by
// compare-and-swap, so of several concurrent exchanges of one token exactly one
// succeeds; a token that no longer matches revokes the whole session.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, device domain.DeviceInfo) (*domain.TokenPair, error) {
	sessionID, _, ok := domain.ParseRefreshToken(refreshToken)
	if !ok {
		return nil, fmt.Errorf("%w: malformed refresh token", domain.ErrAuthentication)
	}
	presentedHash := security.HashToken(strings.TrimSpace(refreshToken))

	session, err := s.freshSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().Truncate(time.Second)
	if session.Revoked {
		return nil, fmt.Errorf("%w: session revoked", domain.ErrAuthentication)
	}
	if session.IsExpired(now) {
		return nil, fmt.Errorf("%w: session expired", domain.ErrExpired)
	}
	if subtle.ConstantTimeCompare([]byte(presentedHash), []byte(session.RefreshHash)) != 1 {
		return nil, s.handleReplay(ctx, session, device, now)
	}

	profile, err := s.activeProfile(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	nextToken, nextHash, err := newRefreshToken(sessionID)
	if err != nil {
		return nil, err
	}

	rotated, err := s.sessions.RotateRefresh(ctx, port.RefreshRotation{
		SessionID:    sessionID,
		ExpectedHash: presentedHash,
		NextHash:     nextHash,
		Generation:   session.Generation + 1,
		Device:       device,
		At:           now,
	})
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		return nil, s.handleReplay(ctx, session, device, now)
	}

	accessToken, claims, err := s.jwt.SignAccessToken(security.AccessTokenOptions{
		UserID:    session.UserID,
		SessionID: sessionID,
		Roles:     profile.Roles,
		IssuedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditRefresh,
		UserID:     session.UserID,
		SessionID:  sessionID,
		IP:         device.IP,
		OccurredAt: now,
		Metadata:   map[string]any{"generation": session.Generation + 1},
	})

	return &domain.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     nextToken,
		TokenType:        domain.TokenTypeBearer,
		IssuedAt:         now,
		ExpiresAt:        claims.ExpiresAt.Time,
		RefreshExpiresAt: session.ExpiresAt,
		SessionID:        sessionID,
	}, nil
}

func (s *TokenService) handleReplay(ctx context.Context, session *domain.Session, device domain.DeviceInfo, now time.Time) error {
	s.logger.Warn("refresh token replay detected",
		zap.String("session_id", session.ID),
		zap.String("user_id", logger.MaskString(session.UserID)),
		zap.String("ip", logger.MaskIP(device.IP)),
	)

	if err := s.sessions.Revoke(ctx, session.ID, domain.RevokeReasonReplay, now); err != nil {
		s.logger.Error("revoke replayed session", zap.String("session_id", session.ID), zap.Error(err))
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditRefreshReplayed,
		UserID:     session.UserID,
		SessionID:  session.ID,
		IP:         device.IP,
		OccurredAt: now,
		Metadata:   map[string]any{"generation": session.Generation},
	})
	return fmt.Errorf("%w: refresh token already used", domain.ErrReplay)
}

// Revoke ends a session. Revoking an already revoked session is a no-op.
func (s *TokenService) Revoke(ctx context.Context, sessionID, reason string) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.revoke(ctx, session, reason)
}

// RevokeForUser ends a session owned by userID. Sessions of other users are reported as not found.
func (s *TokenService) RevokeForUser(ctx context.Context, userID, sessionID, reason string) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return repository.ErrNotFound
	}
	return s.revoke(ctx, session, reason)
}

// RevokeAll ends every active session of userID and returns how many were revoked.
func (s *TokenService) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	if reason == "" {
		reason = domain.RevokeReasonLogoutAll
	}

	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	now := s.now()
	revoked := 0
	var errs []error
	for i := range sessions {
		if !sessions[i].IsActive(now) {
			continue
		}
		if err := s.revoke(ctx, &sessions[i], reason); err != nil {
			errs = append(errs, err)
			continue
		}
		revoked++
	}
	return revoked, errors.Join(errs...)
}

// ListSessions returns userID's sessions, newest first.
func (s *TokenService) ListSessions(ctx context.Context, userID string, activeOnly bool) ([]domain.Session, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if !activeOnly {
		return sessions, nil
	}

	now := s.now()
	active := sessions[:0]
	for _, session := range sessions {
		if session.IsActive(now) {
			active = append(active, session)
		}
	}
	return active, nil
}

// ValidateSession checks that an access token's session is still live. A
// last-known copy of the session is accepted.
func (s *TokenService) ValidateSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, fresh, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown session", domain.ErrAuthentication)
		}
		return nil, err
	}
	if !fresh {
		s.logger.Debug("session validated from fallback", zap.String("session_id", sessionID))
	}
	if session.Revoked {
		return nil, fmt.Errorf("%w: session revoked", domain.ErrAuthentication)
	}
	if session.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: session expired", domain.ErrExpired)
	}
	return session, nil
}

func (s *TokenService) revoke(ctx context.Context, session *domain.Session, reason string) error {
	if session.Revoked {
		return nil
	}
	if reason == "" {
		reason = domain.RevokeReasonLogout
	}

	now := s.now()
	if err := s.sessions.Revoke(ctx, session.ID, reason, now); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditSessionRevoked,
		UserID:     session.UserID,
		SessionID:  session.ID,
		OccurredAt: now,
		Metadata:   map[string]any{"reason": reason},
	})
	return nil
}

func (s *TokenService) loadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	session, _, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// freshSession loads a session for a state-changing flow and refuses fallback answers.
func (s *TokenService) freshSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, fresh, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown session", domain.ErrAuthentication)
		}
		return nil, err
	}
	if !fresh {
		return nil, fmt.Errorf("%w: session read served from fallback", domain.ErrDependencyDegraded)
	}
	return session, nil
}

func (s *TokenService) activeProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if s.users == nil {
		return &domain.UserProfile{ID: userID}, nil
	}
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", domain.ErrAuthentication)
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if profile.Disabled {
		return nil, fmt.Errorf("%w: user disabled", domain.ErrAuthentication)
	}
	return profile, nil
}

func (s *TokenService) emit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}

func newRefreshToken(sessionID string) (token, hash string, err error) {
	secret, err := security.GenerateSecureToken(refreshSecretBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	token = domain.FormatRefreshToken(sessionID, secret)
	return token, security.HashToken(token), nil
}

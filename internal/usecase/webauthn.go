package usecase

import (
	"bytes"
	"context"
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
	"github.com/arklim/authcore/internal/repository"
)

const defaultCeremonyTTL = 5 * time.Minute

// WebAuthnService runs passkey registration and authentication ceremonies.
type WebAuthnService struct {
	verifier    port.PasskeyVerifier
	challenges  port.ChallengeStore
	credentials port.CredentialStore
	users       port.UserDirectory
	audit       port.AuditSink
	ceremonyTTL time.Duration
	strictCount bool
	logger      *zap.Logger
	now         func() time.Time
}

// NewWebAuthnService constructs a WebAuthnService instance.
func NewWebAuthnService(
	cfg config.WebAuthnSettings,
	verifier port.PasskeyVerifier,
	challenges port.ChallengeStore,
	credentials port.CredentialStore,
	users port.UserDirectory,
	audit port.AuditSink,
	logger *zap.Logger,
) *WebAuthnService {
	if logger == nil {
		logger = zap.NewNop()
	}

	ttl := cfg.CeremonyTTL
	if ttl <= 0 {
		ttl = defaultCeremonyTTL
	}

	service := &WebAuthnService{
		verifier:    verifier,
		challenges:  challenges,
		credentials: credentials,
		users:       users,
		audit:       audit,
		ceremonyTTL: ttl,
		strictCount: cfg.RequireCounterIncrease,
		logger:      logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *WebAuthnService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// BeginRegistration starts a registration ceremony for userID. userName overrides the directory
// username shown by the authenticator.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, userID, userName string) (*domain.CeremonyStart, error) {
	user, err := s.passkeyUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(userName); name != "" {
		user.Name = name
	}

	ceremony, err := s.verifier.BeginRegistration(user)
	if err != nil {
		return nil, err
	}
	return s.saveChallenge(ctx, user.ID, domain.CeremonyRegistration, ceremony)
}

// BeginAuthentication starts an authentication ceremony against userID's credentials.
func (s *WebAuthnService) BeginAuthentication(ctx context.Context, userID string) (*domain.CeremonyStart, error) {
	user, err := s.passkeyUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	ceremony, err := s.verifier.BeginLogin(user)
	if err != nil {
		return nil, err
	}
	return s.saveChallenge(ctx, user.ID, domain.CeremonyAuthentication, ceremony)
}

// CompleteRegistration verifies an attestation and stores the new credential. The challenge is
// consumed before verification, so a failed attempt cannot be retried.
func (s *WebAuthnService) CompleteRegistration(ctx context.Context, challengeID string, response []byte) (*domain.Credential, error) {
	return s.completeRegistration(ctx, "", challengeID, response)
}

// CompleteRegistrationFor is CompleteRegistration for a ceremony that must belong to userID. A
// ceremony started by another user is rejected without being consumed.
func (s *WebAuthnService) CompleteRegistrationFor(ctx context.Context, userID, challengeID string, response []byte) (*domain.Credential, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.completeRegistration(ctx, strings.TrimSpace(userID), challengeID, response)
}

func (s *WebAuthnService) completeRegistration(ctx context.Context, owner, challengeID string, response []byte) (*domain.Credential, error) {
	challenge, err := s.consumeChallenge(ctx, owner, challengeID, domain.CeremonyRegistration)
	if err != nil {
		return nil, err
	}

	user, err := s.passkeyUser(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}

	credential, err := s.verifier.FinishRegistration(user, challenge.SessionData, response)
	if err != nil {
		s.failed(ctx, challenge, err)
		return nil, err
	}

	if _, err := s.credentials.Get(ctx, credential.ID); err == nil {
		return nil, fmt.Errorf("%w: credential already registered", domain.ErrValidation)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check credential: %w", err)
	}

	now := s.now()
	credential.UserID = challenge.UserID
	credential.CreatedAt = now
	if err := s.credentials.Save(ctx, *credential); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditWebAuthnRegistered,
		UserID:     challenge.UserID,
		OccurredAt: now,
		Metadata: map[string]any{
			"credential_id":    logger.MaskBytes(credential.ID),
			"attestation_type": credential.AttestationType,
		},
	})
	return credential, nil
}

// CompleteAuthentication verifies an assertion. The signature counter must move forward; a
// counter that does not is treated as a cloned authenticator.
func (s *WebAuthnService) CompleteAuthentication(ctx context.Context, challengeID string, response []byte) (*domain.PasskeyLogin, error) {
	challenge, err := s.consumeChallenge(ctx, "", challengeID, domain.CeremonyAuthentication)
	if err != nil {
		return nil, err
	}

	user, err := s.passkeyUser(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}

	assertion, err := s.verifier.FinishLogin(user, challenge.SessionData, response)
	if err != nil {
		s.failed(ctx, challenge, err)
		return nil, err
	}

	stored, ok := findCredential(user.Credentials, assertion.CredentialID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown credential", domain.ErrAuthentication)
	}

	if !stored.AcceptsCounter(assertion.SignCount, s.strictCount) {
		return nil, s.cloned(ctx, stored, assertion.SignCount)
	}

	now := s.now()
	advanced, err := s.credentials.AdvanceCounter(ctx, stored.ID, stored.SignCount, assertion.SignCount, now)
	if err != nil {
		return nil, fmt.Errorf("advance sign counter: %w", err)
	}
	if !advanced {
		return nil, s.cloned(ctx, stored, assertion.SignCount)
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditWebAuthnLogin,
		UserID:     challenge.UserID,
		OccurredAt: now,
		Metadata: map[string]any{
			"credential_id": logger.MaskBytes(stored.ID),
			"sign_count":    assertion.SignCount,
		},
	})

	return &domain.PasskeyLogin{
		UserID:       challenge.UserID,
		CredentialID: stored.ID,
		SignCount:    assertion.SignCount,
	}, nil
}

// ListCredentials returns userID's passkeys.
func (s *WebAuthnService) ListCredentials(ctx context.Context, userID string) ([]domain.Credential, error) {
	credentials, err := s.credentials.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// RemoveCredential deletes one of userID's passkeys.
func (s *WebAuthnService) RemoveCredential(ctx context.Context, userID string, credentialID []byte) error {
	if len(credentialID) == 0 {
		return fmt.Errorf("%w: credential id is required", domain.ErrValidation)
	}
	if err := s.credentials.Delete(ctx, userID, credentialID); err != nil {
		return err
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditWebAuthnRemoved,
		UserID:     userID,
		OccurredAt: s.now(),
		Metadata:   map[string]any{"credential_id": logger.MaskBytes(credentialID)},
	})
	return nil
}

func (s *WebAuthnService) saveChallenge(ctx context.Context, userID string, kind domain.CeremonyType, ceremony *port.PasskeyCeremony) (*domain.CeremonyStart, error) {
	now := s.now()
	challenge := domain.WebAuthnChallenge{
		ID:          uuid.NewString(),
		UserID:      userID,
		Challenge:   ceremony.Challenge,
		Type:        kind,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ceremonyTTL),
		SessionData: ceremony.SessionData,
	}
	if err := s.challenges.Save(ctx, challenge); err != nil {
		return nil, fmt.Errorf("save challenge: %w", err)
	}

	return &domain.CeremonyStart{
		ChallengeID: challenge.ID,
		Options:     ceremony.Options,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// consumeChallenge loads the ceremony, checks it and marks it used. A non-empty owner must match
// the user the ceremony was started for.
func (s *WebAuthnService) consumeChallenge(ctx context.Context, owner, challengeID string, kind domain.CeremonyType) (*domain.WebAuthnChallenge, error) {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return nil, fmt.Errorf("%w: challenge id is required", domain.ErrValidation)
	}

	challenge, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown challenge", domain.ErrAuthentication)
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	if challenge.Type != kind {
		return nil, fmt.Errorf("%w: challenge type mismatch", domain.ErrAuthentication)
	}
	if owner != "" && challenge.UserID != owner {
		return nil, fmt.Errorf("%w: challenge belongs to another user", domain.ErrAuthentication)
	}
	if challenge.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: challenge expired", domain.ErrExpired)
	}
	if challenge.Consumed {
		return nil, fmt.Errorf("%w: challenge already used", domain.ErrReplay)
	}

	consumed, err := s.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	if !consumed {
		return nil, fmt.Errorf("%w: challenge already used", domain.ErrReplay)
	}
	return challenge, nil
}

func (s *WebAuthnService) passkeyUser(ctx context.Context, userID string) (port.PasskeyUser, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return port.PasskeyUser{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	user := port.PasskeyUser{ID: userID, Name: userID}
	if s.users != nil {
		profile, err := s.users.GetProfile(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return port.PasskeyUser{}, fmt.Errorf("%w: unknown user", domain.ErrAuthentication)
			}
			return port.PasskeyUser{}, fmt.Errorf("get profile: %w", err)
		}
		if profile.Disabled {
			return port.PasskeyUser{}, fmt.Errorf("%w: user disabled", domain.ErrAuthentication)
		}
		if profile.Username != "" {
			user.Name = profile.Username
		}
		user.DisplayName = profile.DisplayName
	}

	credentials, err := s.credentials.ListByUser(ctx, userID)
	if err != nil {
		return port.PasskeyUser{}, fmt.Errorf("list credentials: %w", err)
	}
	user.Credentials = credentials
	return user, nil
}

func (s *WebAuthnService) cloned(ctx context.Context, credential *domain.Credential, presented uint32) error {
	s.logger.Warn("authenticator signature counter did not advance",
		zap.String("user_id", logger.MaskString(credential.UserID)),
		zap.String("credential_id", logger.MaskBytes(credential.ID)),
		zap.Uint32("stored", credential.SignCount),
		zap.Uint32("presented", presented),
	)
	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditWebAuthnCloned,
		UserID:     credential.UserID,
		OccurredAt: s.now(),
		Metadata: map[string]any{
			"credential_id": logger.MaskBytes(credential.ID),
			"stored":        credential.SignCount,
			"presented":     presented,
		},
	})
	return fmt.Errorf("%w: signature counter did not advance", domain.ErrReplay)
}

func (s *WebAuthnService) failed(ctx context.Context, challenge *domain.WebAuthnChallenge, err error) {
	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditWebAuthnFailed,
		UserID:     challenge.UserID,
		OccurredAt: s.now(),
		Metadata: map[string]any{
			"ceremony": string(challenge.Type),
			"error":    err.Error(),
		},
	})
}

func (s *WebAuthnService) emit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}

func findCredential(credentials []domain.Credential, id []byte) (*domain.Credential, bool) {
	for i := range credentials {
		if bytes.Equal(credentials[i].ID, id) {
			return &credentials[i], true
		}
	}
	return nil, false
}

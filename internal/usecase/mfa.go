package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/logger"
	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/repository"
)

const (
	defaultBackupCodeCount = 10
	// usedStepWindows is how many TOTP periods a used-step marker outlives its step.
	usedStepWindows = 3
)

// MFAService manages TOTP enrollment, verification and one-time backup codes.
type MFAService struct {
	store           port.MFAStore
	users           port.UserDirectory
	hasher          port.BackupCodeHasher
	audit           port.AuditSink
	totp            *security.TOTP
	backupCodeCount int
	logger          *zap.Logger
	now             func() time.Time
}

// NewMFAService constructs an MFAService instance.
func NewMFAService(
	cfg config.MFASettings,
	store port.MFAStore,
	users port.UserDirectory,
	hasher port.BackupCodeHasher,
	audit port.AuditSink,
	logger *zap.Logger,
) *MFAService {
	if logger == nil {
		logger = zap.NewNop()
	}

	count := cfg.BackupCodeCount
	if count <= 0 {
		count = defaultBackupCodeCount
	}

	service := &MFAService{
		store:           store,
		users:           users,
		hasher:          hasher,
		audit:           audit,
		totp:            security.NewTOTP(cfg.Issuer, cfg.Skew),
		backupCodeCount: count,
		logger:          logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *MFAService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Enroll creates a pending enrollment. The secret and backup codes are returned in plaintext
// only here; the store keeps the secret and salted digests of the codes.
func (s *MFAService) Enroll(ctx context.Context, userID, accountName string) (*domain.MFAEnrollmentResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	existing, err := s.store.GetEnrollment(ctx, userID)
	switch {
	case err == nil && existing.Enabled:
		return nil, fmt.Errorf("%w: mfa already enabled", domain.ErrValidation)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("get enrollment: %w", err)
	}

	if strings.TrimSpace(accountName) == "" {
		accountName = userID
	}
	key, err := s.totp.Generate(accountName)
	if err != nil {
		return nil, err
	}

	codes, hashes, salt, err := s.newBackupCodes(nil)
	if err != nil {
		return nil, err
	}

	now := s.now()
	enrollment := domain.MFAEnrollment{
		UserID:      userID,
		Secret:      key.Secret,
		BackupCodes: hashes,
		Salt:        salt,
		CreatedAt:   now,
	}
	if err := s.store.SaveEnrollment(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("save enrollment: %w", err)
	}

	s.emit(ctx, domain.AuditEvent{Type: domain.AuditMFAEnrolled, UserID: userID, OccurredAt: now})

	return &domain.MFAEnrollmentResult{
		Secret:          key.Secret,
		ProvisioningURI: key.ProvisioningURI,
		BackupCodes:     codes,
	}, nil
}

// Activate turns a pending enrollment on with its first valid code.
func (s *MFAService) Activate(ctx context.Context, userID, code string) error {
	enrollment, err := s.enrollment(ctx, userID)
	if err != nil {
		return err
	}
	if enrollment.Enabled {
		return fmt.Errorf("%w: mfa already enabled", domain.ErrValidation)
	}

	ok, err := s.checkTOTP(ctx, enrollment, code)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: invalid code", domain.ErrAuthentication)
	}

	now := s.now()
	if err := s.store.SetEnabled(ctx, userID, now); err != nil {
		return fmt.Errorf("enable mfa: %w", err)
	}
	s.syncDirectory(ctx, userID, true)

	s.emit(ctx, domain.AuditEvent{Type: domain.AuditMFAEnabled, UserID: userID, OccurredAt: now})
	return nil
}

// Verify checks a TOTP code for an enabled enrollment. A code already accepted for its time step
// fails with domain.ErrReplay. When the used-step marker cannot be written the check fails closed.
func (s *MFAService) Verify(ctx context.Context, userID, code string) (bool, error) {
	enrollment, err := s.activeEnrollment(ctx, userID)
	if err != nil {
		return false, err
	}

	ok, err := s.checkTOTP(ctx, enrollment, code)
	if err != nil || !ok {
		return false, err
	}

	s.emit(ctx, domain.AuditEvent{Type: domain.AuditMFAVerified, UserID: userID, OccurredAt: s.now()})
	return true, nil
}

// VerifyBackupCode consumes a backup code. Each code is accepted once.
func (s *MFAService) VerifyBackupCode(ctx context.Context, userID, code string) (bool, error) {
	enrollment, err := s.activeEnrollment(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.consumeBackupCode(ctx, enrollment, code)
}

// RegenerateBackupCodes replaces every backup code after checking a current TOTP code.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	enrollment, err := s.activeEnrollment(ctx, userID)
	if err != nil {
		return nil, err
	}

	ok, err := s.checkTOTP(ctx, enrollment, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: invalid code", domain.ErrAuthentication)
	}

	codes, hashes, _, err := s.newBackupCodes(enrollment.Salt)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("replace backup codes: %w", err)
	}

	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditMFABackupRegenerate,
		UserID:     userID,
		OccurredAt: s.now(),
		Metadata:   map[string]any{"count": len(codes)},
	})
	return codes, nil
}

// Disable removes the enrollment. code may be a TOTP code or a backup code.
func (s *MFAService) Disable(ctx context.Context, userID, code string) error {
	enrollment, err := s.enrollment(ctx, userID)
	if err != nil {
		return err
	}

	var ok bool
	if looksLikeTOTP(code) {
		ok, err = s.checkTOTP(ctx, enrollment, code)
	} else {
		ok, err = s.consumeBackupCode(ctx, enrollment, code)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: invalid code", domain.ErrAuthentication)
	}

	if err := s.store.DeleteEnrollment(ctx, userID); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	s.syncDirectory(ctx, userID, false)

	s.emit(ctx, domain.AuditEvent{Type: domain.AuditMFADisabled, UserID: userID, OccurredAt: s.now()})
	return nil
}

// Status reports the user's enrollment state.
func (s *MFAService) Status(ctx context.Context, userID string) (*domain.MFAStatus, error) {
	enrollment, err := s.store.GetEnrollment(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.MFAStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}

	remaining, err := s.store.CountBackupCodes(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count backup codes: %w", err)
	}

	return &domain.MFAStatus{
		Enrolled:             true,
		Enabled:              enrollment.Enabled,
		BackupCodesRemaining: remaining,
		EnabledAt:            enrollment.EnabledAt,
	}, nil
}

// checkTOTP matches code and claims its time step. It returns domain.ErrReplay when the step was
// already claimed.
func (s *MFAService) checkTOTP(ctx context.Context, enrollment *domain.MFAEnrollment, code string) (bool, error) {
	step, ok, err := s.totp.Match(enrollment.Secret, code, s.now())
	if err != nil {
		return false, fmt.Errorf("match totp: %w", err)
	}
	if !ok {
		s.failed(ctx, enrollment.UserID, "invalid_code")
		return false, nil
	}

	claimed, err := s.store.ClaimStep(ctx, enrollment.UserID, step, usedStepWindows*s.totp.Period())
	if err != nil {
		return false, fmt.Errorf("claim totp step: %w", err)
	}
	if !claimed {
		s.failed(ctx, enrollment.UserID, "replay")
		return false, fmt.Errorf("%w: code already used", domain.ErrReplay)
	}
	return true, nil
}

func (s *MFAService) consumeBackupCode(ctx context.Context, enrollment *domain.MFAEnrollment, code string) (bool, error) {
	normalized := security.NormalizeBackupCode(code)
	if normalized == "" {
		return false, nil
	}

	consumed, err := s.store.ConsumeBackupCode(ctx, enrollment.UserID, s.hasher.Hash(normalized, enrollment.Salt))
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	if !consumed {
		s.failed(ctx, enrollment.UserID, "invalid_backup_code")
		return false, nil
	}

	remaining, err := s.store.CountBackupCodes(ctx, enrollment.UserID)
	if err != nil {
		s.logger.Warn("count backup codes", zap.String("user_id", logger.MaskString(enrollment.UserID)), zap.Error(err))
	}
	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditMFABackupUsed,
		UserID:     enrollment.UserID,
		OccurredAt: s.now(),
		Metadata:   map[string]any{"remaining": remaining},
	})
	return true, nil
}

// newBackupCodes generates plaintext codes and their digests. A nil salt draws a new one.
func (s *MFAService) newBackupCodes(salt []byte) ([]string, []string, []byte, error) {
	codes, err := security.GenerateBackupCodes(s.backupCodeCount)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate backup codes: %w", err)
	}
	if salt == nil {
		salt, err = s.hasher.NewSalt()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("generate backup code salt: %w", err)
		}
	}

	hashes := make([]string, len(codes))
	for i, code := range codes {
		hashes[i] = s.hasher.Hash(code, salt)
	}
	return codes, hashes, salt, nil
}

func (s *MFAService) enrollment(ctx context.Context, userID string) (*domain.MFAEnrollment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	enrollment, err := s.store.GetEnrollment(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: mfa not enrolled", domain.ErrValidation)
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return enrollment, nil
}

func (s *MFAService) activeEnrollment(ctx context.Context, userID string) (*domain.MFAEnrollment, error) {
	enrollment, err := s.enrollment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if enrollment.IsPending() {
		return nil, fmt.Errorf("%w: mfa not enabled", domain.ErrValidation)
	}
	return enrollment, nil
}

func (s *MFAService) syncDirectory(ctx context.Context, userID string, enabled bool) {
	if s.users == nil {
		return
	}
	if err := s.users.SetMFAEnabled(ctx, userID, enabled); err != nil {
		s.logger.Error("sync mfa flag to user directory",
			zap.String("user_id", logger.MaskString(userID)),
			zap.Bool("enabled", enabled),
			zap.Error(err),
		)
	}
}

func (s *MFAService) failed(ctx context.Context, userID, reason string) {
	s.emit(ctx, domain.AuditEvent{
		Type:       domain.AuditMFAFailed,
		UserID:     userID,
		OccurredAt: s.now(),
		Metadata:   map[string]any{"reason": reason},
	})
}

func (s *MFAService) emit(ctx context.Context, event domain.AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}

func looksLikeTOTP(code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

const (
	mfaFieldSecret    = "secret"
	mfaFieldEnabled   = "enabled"
	mfaFieldSalt      = "salt"
	mfaFieldCreatedAt = "created_at"
	mfaFieldEnabledAt = "enabled_at"
)

var _ port.MFAStore = (*MFAStore)(nil)

// MFAStore keeps TOTP enrollments, used-step markers and hashed backup codes.
type MFAStore struct {
	cache port.Cache
	keys  Keys
}

// NewMFAStore constructs an MFA store.
func NewMFAStore(cache port.Cache, keys Keys) *MFAStore {
	return &MFAStore{cache: cache, keys: keys}
}

// SaveEnrollment overwrites the user's enrollment and its backup code set.
func (s *MFAStore) SaveEnrollment(ctx context.Context, enrollment domain.MFAEnrollment) error {
	if enrollment.UserID == "" || enrollment.Secret == "" {
		return fmt.Errorf("save enrollment: %w: user and secret are required", domain.ErrValidation)
	}

	res := s.cache.HSet(ctx, s.keys.MFA(enrollment.UserID), map[string]string{
		mfaFieldSecret:    enrollment.Secret,
		mfaFieldEnabled:   formatBool(enrollment.Enabled),
		mfaFieldSalt:      encodeBytes(enrollment.Salt),
		mfaFieldCreatedAt: formatTime(enrollment.CreatedAt),
		mfaFieldEnabledAt: formatTimePtr(enrollment.EnabledAt),
	})
	if err := requireFresh("save enrollment", res); err != nil {
		return err
	}
	return s.ReplaceBackupCodes(ctx, enrollment.UserID, enrollment.BackupCodes)
}

// GetEnrollment loads an enrollment. Backup codes are not loaded; see CountBackupCodes.
// A last-known copy is acceptable here because every verification still needs
// a fresh claim.
func (s *MFAStore) GetEnrollment(ctx context.Context, userID string) (*domain.MFAEnrollment, error) {
	res := s.cache.HGetAll(ctx, s.keys.MFA(userID))
	if res.Outcome == port.CacheUnavailable {
		return nil, requireFresh("get enrollment", res)
	}
	if !res.Found || res.Value[mfaFieldSecret] == "" {
		return nil, repository.ErrNotFound
	}

	salt, err := decodeBytes(res.Value[mfaFieldSalt])
	if err != nil {
		return nil, fmt.Errorf("decode enrollment salt: %w", err)
	}
	createdAt, err := parseTime(res.Value[mfaFieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode enrollment created_at: %w", err)
	}
	enabledAt, err := parseTimePtr(res.Value[mfaFieldEnabledAt])
	if err != nil {
		return nil, fmt.Errorf("decode enrollment enabled_at: %w", err)
	}

	return &domain.MFAEnrollment{
		UserID:    userID,
		Secret:    res.Value[mfaFieldSecret],
		Enabled:   parseBool(res.Value[mfaFieldEnabled]),
		Salt:      salt,
		CreatedAt: createdAt,
		EnabledAt: enabledAt,
	}, nil
}

// SetEnabled turns the enrollment on.
func (s *MFAStore) SetEnabled(ctx context.Context, userID string, at time.Time) error {
	res := s.cache.HSet(ctx, s.keys.MFA(userID), map[string]string{
		mfaFieldEnabled:   formatBool(true),
		mfaFieldEnabledAt: formatTime(at),
	})
	return requireFresh("enable mfa", res)
}

// DeleteEnrollment removes the enrollment and its backup codes.
func (s *MFAStore) DeleteEnrollment(ctx context.Context, userID string) error {
	return errors.Join(
		requireFresh("delete enrollment", s.cache.Delete(ctx, s.keys.MFA(userID))),
		requireFresh("delete backup codes", s.cache.Delete(ctx, s.keys.MFABackupCodes(userID))),
	)
}

// ClaimStep records that the code for step was used. Only the first claim succeeds.
func (s *MFAStore) ClaimStep(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error) {
	res := s.cache.SetNX(ctx, s.keys.MFAUsedStep(userID, step), []byte("1"), ttl)
	if err := requireFresh("claim totp step", res); err != nil {
		return false, err
	}
	return res.Value, nil
}

// ConsumeBackupCode removes codeHash from the user's set. Only one caller can observe true.
func (s *MFAStore) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	res := s.cache.SRem(ctx, s.keys.MFABackupCodes(userID), codeHash)
	if err := requireFresh("consume backup code", res); err != nil {
		return false, err
	}
	return res.Value == 1, nil
}

// ReplaceBackupCodes drops the current set and stores codeHashes.
func (s *MFAStore) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	key := s.keys.MFABackupCodes(userID)
	if err := requireFresh("clear backup codes", s.cache.Delete(ctx, key)); err != nil {
		return err
	}
	if len(codeHashes) == 0 {
		return nil
	}
	return requireFresh("store backup codes", s.cache.SAdd(ctx, key, codeHashes...))
}

// CountBackupCodes returns the number of unused backup codes.
func (s *MFAStore) CountBackupCodes(ctx context.Context, userID string) (int, error) {
	res := s.cache.SMembers(ctx, s.keys.MFABackupCodes(userID))
	if res.Outcome == port.CacheUnavailable {
		return 0, requireFresh("count backup codes", res)
	}
	return len(res.Value), nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

const (
	credFieldUserID          = "user_id"
	credFieldPublicKey       = "public_key"
	credFieldAttestationType = "attestation_type"
	credFieldAAGUID          = "aaguid"
	credFieldSignCount       = "sign_count"
	credFieldTransports      = "transports"
	credFieldBackupEligible  = "backup_eligible"
	credFieldBackupState     = "backup_state"
	credFieldCreatedAt       = "created_at"
	credFieldLastUsedAt      = "last_used_at"
)

var _ port.CredentialStore = (*CredentialStore)(nil)

// CredentialStore persists passkeys keyed by credential id with a per-user index.
type CredentialStore struct {
	cache port.Cache
	keys  Keys
}

// NewCredentialStore constructs a credential store.
func NewCredentialStore(cache port.Cache, keys Keys) *CredentialStore {
	return &CredentialStore{cache: cache, keys: keys}
}

// Save writes the credential and indexes it under its user.
func (s *CredentialStore) Save(ctx context.Context, credential domain.Credential) error {
	if len(credential.ID) == 0 || credential.UserID == "" {
		return fmt.Errorf("save credential: %w", domain.ErrValidation)
	}
	id := encodeBytes(credential.ID)

	res := s.cache.HSet(ctx, s.keys.Credential(id), map[string]string{
		credFieldUserID:          credential.UserID,
		credFieldPublicKey:       encodeBytes(credential.PublicKey),
		credFieldAttestationType: credential.AttestationType,
		credFieldAAGUID:          encodeBytes(credential.AAGUID),
		credFieldSignCount:       strconv.FormatUint(uint64(credential.SignCount), 10),
		credFieldTransports:      strings.Join(credential.Transports, ","),
		credFieldBackupEligible:  formatBool(credential.BackupEligible),
		credFieldBackupState:     formatBool(credential.BackupState),
		credFieldCreatedAt:       formatTime(credential.CreatedAt),
		credFieldLastUsedAt:      formatTimePtr(credential.LastUsedAt),
	})
	if err := requireFresh("save credential", res); err != nil {
		return err
	}
	return requireFresh("index credential", s.cache.SAdd(ctx, s.keys.UserCredentials(credential.UserID), id))
}

// Get loads a credential by raw id.
func (s *CredentialStore) Get(ctx context.Context, credentialID []byte) (*domain.Credential, error) {
	res := s.cache.HGetAll(ctx, s.keys.Credential(encodeBytes(credentialID)))
	if res.Outcome == port.CacheUnavailable {
		return nil, requireFresh("get credential", res)
	}
	if !res.Found || res.Value[credFieldUserID] == "" {
		return nil, repository.ErrNotFound
	}
	return decodeCredential(credentialID, res.Value)
}

// ListByUser returns the user's credentials, oldest first.
func (s *CredentialStore) ListByUser(ctx context.Context, userID string) ([]domain.Credential, error) {
	index := s.keys.UserCredentials(userID)
	members := s.cache.SMembers(ctx, index)
	if members.Outcome == port.CacheUnavailable {
		return nil, requireFresh("list credentials", members)
	}

	credentials := make([]domain.Credential, 0, len(members.Value))
	for _, encoded := range members.Value {
		id, err := decodeBytes(encoded)
		if err != nil {
			continue
		}
		credential, err := s.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, *credential)
	}

	sort.Slice(credentials, func(i, j int) bool {
		return credentials[i].CreatedAt.Before(credentials[j].CreatedAt)
	})
	return credentials, nil
}

// Delete removes a credential owned by userID.
func (s *CredentialStore) Delete(ctx context.Context, userID string, credentialID []byte) error {
	credential, err := s.Get(ctx, credentialID)
	if err != nil {
		return err
	}
	if credential.UserID != userID {
		return repository.ErrNotFound
	}

	id := encodeBytes(credentialID)
	return errors.Join(
		requireFresh("delete credential", s.cache.Delete(ctx, s.keys.Credential(id))),
		requireFresh("unindex credential", s.cache.SRem(ctx, s.keys.UserCredentials(userID), id)),
	)
}

// AdvanceCounter moves sign_count from expected to next. It returns false when
// another assertion advanced the counter first.
func (s *CredentialStore) AdvanceCounter(ctx context.Context, credentialID []byte, expected, next uint32, at time.Time) (bool, error) {
	key := s.keys.Credential(encodeBytes(credentialID))
	res := s.cache.CompareAndSwapField(ctx, key, credFieldSignCount,
		strconv.FormatUint(uint64(expected), 10),
		strconv.FormatUint(uint64(next), 10),
	)
	if err := requireFresh("advance sign counter", res); err != nil {
		return false, err
	}
	if !res.Value {
		return false, nil
	}
	s.cache.HSet(ctx, key, map[string]string{credFieldLastUsedAt: formatTime(at)})
	return true, nil
}

func decodeCredential(id []byte, fields map[string]string) (*domain.Credential, error) {
	publicKey, err := decodeBytes(fields[credFieldPublicKey])
	if err != nil {
		return nil, fmt.Errorf("decode credential public key: %w", err)
	}
	aaguid, err := decodeBytes(fields[credFieldAAGUID])
	if err != nil {
		return nil, fmt.Errorf("decode credential aaguid: %w", err)
	}
	signCount, err := strconv.ParseUint(fields[credFieldSignCount], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("decode credential sign count: %w", err)
	}
	createdAt, err := parseTime(fields[credFieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode credential created_at: %w", err)
	}
	lastUsedAt, err := parseTimePtr(fields[credFieldLastUsedAt])
	if err != nil {
		return nil, fmt.Errorf("decode credential last_used_at: %w", err)
	}

	var transports []string
	if raw := fields[credFieldTransports]; raw != "" {
		transports = strings.Split(raw, ",")
	}

	return &domain.Credential{
		ID:              append([]byte(nil), id...),
		UserID:          fields[credFieldUserID],
		PublicKey:       publicKey,
		AttestationType: fields[credFieldAttestationType],
		AAGUID:          aaguid,
		SignCount:       uint32(signCount),
		Transports:      transports,
		BackupEligible:  parseBool(fields[credFieldBackupEligible]),
		BackupState:     parseBool(fields[credFieldBackupState]),
		CreatedAt:       createdAt,
		LastUsedAt:      lastUsedAt,
	}, nil
}

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/repository"
)

func TestMFAStore_EnrollmentLifecycle(t *testing.T) {
	client, _ := newTestCache(t)
	store := NewMFAStore(client, testKeys)
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	enrollment := domain.MFAEnrollment{
		UserID:      "u1",
		Secret:      "JBSWY3DPEHPK3PXP",
		Salt:        []byte("0123456789abcdef"),
		BackupCodes: []string{"h1", "h2", "h3"},
		CreatedAt:   now,
	}
	if err := store.SaveEnrollment(ctx, enrollment); err != nil {
		t.Fatalf("SaveEnrollment returned error: %v", err)
	}

	got, err := store.GetEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("GetEnrollment returned error: %v", err)
	}
	if got.Secret != enrollment.Secret || got.Enabled || string(got.Salt) != "0123456789abcdef" {
		t.Fatalf("unexpected enrollment: %+v", got)
	}

	if err := store.SetEnabled(ctx, "u1", now.Add(time.Minute)); err != nil {
		t.Fatalf("SetEnabled returned error: %v", err)
	}
	got, err = store.GetEnrollment(ctx, "u1")
	if err != nil {
		t.Fatalf("GetEnrollment returned error: %v", err)
	}
	if !got.Enabled || got.EnabledAt == nil {
		t.Fatalf("expected enabled enrollment, got %+v", got)
	}

	count, err := store.CountBackupCodes(ctx, "u1")
	if err != nil || count != 3 {
		t.Fatalf("expected 3 backup codes, got %d (%v)", count, err)
	}

	if err := store.DeleteEnrollment(ctx, "u1"); err != nil {
		t.Fatalf("DeleteEnrollment returned error: %v", err)
	}
	if _, err := store.GetEnrollment(ctx, "u1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMFAStore_ClaimStepOnce(t *testing.T) {
	client, server := newTestCache(t)
	store := NewMFAStore(client, testKeys)
	ctx := context.Background()

	claimed, err := store.ClaimStep(ctx, "u1", 1000, 90*time.Second)
	if err != nil || !claimed {
		t.Fatalf("expected first claim to succeed, got %v, %v", claimed, err)
	}
	claimed, err = store.ClaimStep(ctx, "u1", 1000, 90*time.Second)
	if err != nil {
		t.Fatalf("ClaimStep returned error: %v", err)
	}
	if claimed {
		t.Fatalf("expected second claim to fail")
	}
	if ttl := server.TTL(testKeys.MFAUsedStep("u1", 1000)); ttl != 90*time.Second {
		t.Fatalf("expected claim ttl 90s, got %v", ttl)
	}

	server.SetError("ERR outage")
	if _, err := store.ClaimStep(ctx, "u1", 1001, time.Minute); !errors.Is(err, domain.ErrDependencyDegraded) {
		t.Fatalf("expected degraded claim error, got %v", err)
	}
}

func TestMFAStore_ConsumeBackupCodeOnce(t *testing.T) {
	client, _ := newTestCache(t)
	store := NewMFAStore(client, testKeys)
	ctx := context.Background()

	if err := store.ReplaceBackupCodes(ctx, "u1", []string{"h1", "h2"}); err != nil {
		t.Fatalf("ReplaceBackupCodes returned error: %v", err)
	}

	ok, err := store.ConsumeBackupCode(ctx, "u1", "h1")
	if err != nil || !ok {
		t.Fatalf("expected consume to succeed, got %v, %v", ok, err)
	}
	ok, err = store.ConsumeBackupCode(ctx, "u1", "h1")
	if err != nil {
		t.Fatalf("ConsumeBackupCode returned error: %v", err)
	}
	if ok {
		t.Fatalf("expected reused backup code to be rejected")
	}

	if err := store.ReplaceBackupCodes(ctx, "u1", []string{"h9"}); err != nil {
		t.Fatalf("ReplaceBackupCodes returned error: %v", err)
	}
	if ok, _ := store.ConsumeBackupCode(ctx, "u1", "h2"); ok {
		t.Fatalf("expected replaced code to be gone")
	}
	if count, _ := store.CountBackupCodes(ctx, "u1"); count != 1 {
		t.Fatalf("expected one code after replace, got %d", count)
	}
}

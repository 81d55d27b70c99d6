package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/repository"
)

func TestChallengeStore_SaveGetConsume(t *testing.T) {
	client, server := newTestCache(t)
	store := NewChallengeStore(client, testKeys)
	ctx := context.Background()
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	challenge := domain.WebAuthnChallenge{
		ID:          "c1",
		UserID:      "u1",
		Challenge:   "abc",
		Type:        domain.CeremonyAuthentication,
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
		SessionData: []byte(`{"challenge":"abc"}`),
	}
	if err := store.Save(ctx, challenge); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if ttl := server.TTL(testKeys.Challenge("c1")); ttl != 6*time.Minute {
		t.Fatalf("expected ttl of ceremony plus retention, got %v", ttl)
	}

	got, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Consumed || got.Type != domain.CeremonyAuthentication || string(got.SessionData) != `{"challenge":"abc"}` {
		t.Fatalf("unexpected challenge: %+v", got)
	}

	consumed, err := store.Consume(ctx, "c1")
	if err != nil || !consumed {
		t.Fatalf("expected first consume to win, got %v, %v", consumed, err)
	}
	consumed, err = store.Consume(ctx, "c1")
	if err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}
	if consumed {
		t.Fatalf("expected second consume to lose")
	}

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChallengeStore_ConsumeFailsClosedWhenDegraded(t *testing.T) {
	client, server := newTestCache(t)
	store := NewChallengeStore(client, testKeys)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Save(ctx, domain.WebAuthnChallenge{ID: "c1", UserID: "u1", Challenge: "abc", Type: domain.CeremonyRegistration, CreatedAt: now, ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	server.SetError("ERR outage")
	if _, err := store.Consume(ctx, "c1"); !errors.Is(err, domain.ErrDependencyDegraded) {
		t.Fatalf("expected degraded error, got %v", err)
	}
}

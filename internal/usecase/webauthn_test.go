package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/passkey"
	"github.com/arklim/authcore/internal/infra/passkey/passkeytest"
	"github.com/arklim/authcore/internal/repository"
	"github.com/arklim/authcore/internal/repository/memory"
	redisrepo "github.com/arklim/authcore/internal/repository/redis"
)

const (
	testRPID   = "localhost"
	testOrigin = "http://localhost:8080"
)

type webauthnFixture struct {
	service     *WebAuthnService
	credentials *redisrepo.CredentialStore
	audit       *recordingAudit
	clock       *testClock
}

func newWebAuthnFixture(t *testing.T, opts ...func(*config.WebAuthnSettings)) *webauthnFixture {
	t.Helper()

	client, _ := newTestCache(t)
	verifier, err := passkey.NewVerifier(passkey.Config{
		RPID:          testRPID,
		RPDisplayName: "Authcore",
		RPOrigins:     []string{testOrigin},
		Timeout:       5 * time.Minute,
	})
	require.NoError(t, err)

	credentials := redisrepo.NewCredentialStore(client, testKeys)
	audit := &recordingAudit{}
	clock := newTestClock(time.Now().UTC())

	settings := config.WebAuthnSettings{CeremonyTTL: 5 * time.Minute}
	for _, opt := range opts {
		opt(&settings)
	}

	service := NewWebAuthnService(
		settings,
		verifier,
		redisrepo.NewChallengeStore(client, testKeys),
		credentials,
		memory.NewUserDirectory(nil, domain.UserProfile{ID: "user-1", Username: "alice", DisplayName: "Alice"}),
		audit,
		zaptest.NewLogger(t),
	)
	service.WithClock(clock.Now)

	return &webauthnFixture{service: service, credentials: credentials, audit: audit, clock: clock}
}

func newTestAuthenticator(t *testing.T) *passkeytest.Authenticator {
	t.Helper()
	auth, err := passkeytest.New(testRPID, testOrigin)
	require.NoError(t, err)
	return auth
}

func (f *webauthnFixture) register(t *testing.T, auth *passkeytest.Authenticator) *domain.Credential {
	t.Helper()
	ctx := context.Background()

	start, err := f.service.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)

	challenge, err := f.challenge(ctx, start.ChallengeID)
	require.NoError(t, err)

	body, err := auth.Attest(challenge)
	require.NoError(t, err)

	credential, err := f.service.CompleteRegistration(ctx, start.ChallengeID, body)
	require.NoError(t, err)
	return credential
}

// beginLogin starts an authentication ceremony and returns its id and the authenticator's answer.
func (f *webauthnFixture) beginLogin(t *testing.T, auth *passkeytest.Authenticator) (string, []byte) {
	t.Helper()
	ctx := context.Background()

	start, err := f.service.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)

	challenge, err := f.challenge(ctx, start.ChallengeID)
	require.NoError(t, err)

	body, err := auth.Assert(challenge, []byte("user-1"))
	require.NoError(t, err)
	return start.ChallengeID, body
}

func (f *webauthnFixture) challenge(ctx context.Context, id string) (string, error) {
	stored, err := f.service.challenges.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return stored.Challenge, nil
}

func TestWebAuthnServiceRegistration(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)

	credential := f.register(t, auth)
	assert.Equal(t, auth.CredentialID(), credential.ID)
	assert.Equal(t, "user-1", credential.UserID)
	assert.Equal(t, f.clock.Now(), credential.CreatedAt)

	stored, err := f.credentials.Get(context.Background(), credential.ID)
	require.NoError(t, err)
	assert.Equal(t, credential.PublicKey, stored.PublicKey)
	assert.Equal(t, 1, f.audit.count(domain.AuditWebAuthnRegistered))

	// The same authenticator cannot be registered twice.
	start, err := f.service.BeginRegistration(context.Background(), "user-1", "alice")
	require.NoError(t, err)
	challenge, err := f.challenge(context.Background(), start.ChallengeID)
	require.NoError(t, err)
	body, err := auth.Attest(challenge)
	require.NoError(t, err)

	_, err = f.service.CompleteRegistration(context.Background(), start.ChallengeID, body)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestWebAuthnServiceAuthentication(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)
	login, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
	require.NoError(t, err)
	assert.Equal(t, "user-1", login.UserID)
	assert.Equal(t, uint32(1), login.SignCount)

	stored, err := f.credentials.Get(context.Background(), auth.CredentialID())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.SignCount)
	assert.NotNil(t, stored.LastUsedAt)

	challengeID, body = f.beginLogin(t, auth)
	login, err = f.service.CompleteAuthentication(context.Background(), challengeID, body)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), login.SignCount)
	assert.Equal(t, 2, f.audit.count(domain.AuditWebAuthnLogin))
}

func TestWebAuthnServiceChallengeSingleUse(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)
	_, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
	require.NoError(t, err)

	_, err = f.service.CompleteAuthentication(context.Background(), challengeID, body)
	assert.ErrorIs(t, err, domain.ErrReplay)
}

func TestWebAuthnServiceChallengeConsumedByFailedAttempt(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)

	_, err := f.service.CompleteAuthentication(context.Background(), challengeID, []byte(`{"id":"bogus"}`))
	require.ErrorIs(t, err, domain.ErrAuthentication)
	assert.Equal(t, 1, f.audit.count(domain.AuditWebAuthnFailed))

	_, err = f.service.CompleteAuthentication(context.Background(), challengeID, body)
	assert.ErrorIs(t, err, domain.ErrReplay)
}

func TestWebAuthnServiceConcurrentCompletion(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)

	const workers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrReplay):
				replays++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, replays)
}

func TestWebAuthnServiceExpiredChallenge(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)
	f.clock.Advance(6 * time.Minute)

	_, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
	assert.ErrorIs(t, err, domain.ErrExpired)
}

func TestWebAuthnServiceRejectsUnknownOrMismatchedChallenge(t *testing.T) {
	f := newWebAuthnFixture(t)
	ctx := context.Background()

	_, err := f.service.CompleteAuthentication(ctx, "missing", []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	start, err := f.service.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)

	_, err = f.service.CompleteAuthentication(ctx, start.ChallengeID, []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	// A mismatched completion does not burn the registration ceremony.
	auth := newTestAuthenticator(t)
	challenge, err := f.challenge(ctx, start.ChallengeID)
	require.NoError(t, err)
	body, err := auth.Attest(challenge)
	require.NoError(t, err)
	_, err = f.service.CompleteRegistration(ctx, start.ChallengeID, body)
	assert.NoError(t, err)
}

func TestWebAuthnServiceDetectsClonedAuthenticator(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)
	_, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
	require.NoError(t, err)

	// A copy of the key that never saw the first assertion.
	auth.SetCounter(0)
	auth.StaticCounter = true
	challengeID, body = f.beginLogin(t, auth)

	_, err = f.service.CompleteAuthentication(context.Background(), challengeID, body)
	assert.ErrorIs(t, err, domain.ErrReplay)
	assert.Equal(t, 1, f.audit.count(domain.AuditWebAuthnCloned))

	stored, err := f.credentials.Get(context.Background(), auth.CredentialID())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.SignCount)
}

func TestWebAuthnServiceZeroCounterAuthenticator(t *testing.T) {
	f := newWebAuthnFixture(t)
	auth := newTestAuthenticator(t)
	auth.StaticCounter = true
	f.register(t, auth)

	for i := 0; i < 2; i++ {
		challengeID, body := f.beginLogin(t, auth)
		login, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), login.SignCount)
	}
}

func TestWebAuthnServiceStrictCounterRejectsZeroCounter(t *testing.T) {
	f := newWebAuthnFixture(t, func(s *config.WebAuthnSettings) { s.RequireCounterIncrease = true })
	auth := newTestAuthenticator(t)
	auth.StaticCounter = true
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)
	_, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
	assert.ErrorIs(t, err, domain.ErrReplay)
	assert.Equal(t, 1, f.audit.count(domain.AuditWebAuthnCloned))
}

func TestWebAuthnServiceStrictCounterAcceptsIncrement(t *testing.T) {
	f := newWebAuthnFixture(t, func(s *config.WebAuthnSettings) { s.RequireCounterIncrease = true })
	auth := newTestAuthenticator(t)
	f.register(t, auth)

	challengeID, body := f.beginLogin(t, auth)
	login, err := f.service.CompleteAuthentication(context.Background(), challengeID, body)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), login.SignCount)
}

func TestWebAuthnServiceBeginAuthenticationWithoutCredentials(t *testing.T) {
	f := newWebAuthnFixture(t)

	_, err := f.service.BeginAuthentication(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrAuthentication)
}

func TestWebAuthnServiceListAndRemoveCredentials(t *testing.T) {
	f := newWebAuthnFixture(t)
	ctx := context.Background()
	first := f.register(t, newTestAuthenticator(t))
	f.clock.Advance(time.Second)
	second := f.register(t, newTestAuthenticator(t))

	credentials, err := f.service.ListCredentials(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, credentials, 2)
	assert.Equal(t, first.ID, credentials[0].ID)
	assert.Equal(t, second.ID, credentials[1].ID)

	assert.ErrorIs(t, f.service.RemoveCredential(ctx, "user-2", first.ID), repository.ErrNotFound)
	require.NoError(t, f.service.RemoveCredential(ctx, "user-1", first.ID))

	credentials, err = f.service.ListCredentials(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, credentials, 1)
	assert.Equal(t, second.ID, credentials[0].ID)
	assert.Equal(t, 1, f.audit.count(domain.AuditWebAuthnRemoved))
}

func TestWebAuthnServiceRegistrationOwnerCheck(t *testing.T) {
	f := newWebAuthnFixture(t)
	ctx := context.Background()
	auth := newTestAuthenticator(t)

	start, err := f.service.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)
	challenge, err := f.challenge(ctx, start.ChallengeID)
	require.NoError(t, err)
	body, err := auth.Attest(challenge)
	require.NoError(t, err)

	_, err = f.service.CompleteRegistrationFor(ctx, "user-2", start.ChallengeID, body)
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	// The rejected attempt left the ceremony usable for its owner.
	credential, err := f.service.CompleteRegistrationFor(ctx, "user-1", start.ChallengeID, body)
	require.NoError(t, err)
	assert.Equal(t, "user-1", credential.UserID)
}

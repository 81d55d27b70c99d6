package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	red "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/cache"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/kafka"
	"github.com/arklim/authcore/internal/infra/passkey"
	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/repository/memory"
	redisrepo "github.com/arklim/authcore/internal/repository/redis"
	"github.com/arklim/authcore/internal/transport/http/handlers"
	httproutes "github.com/arklim/authcore/internal/transport/http/routes"
	"github.com/arklim/authcore/internal/usecase"
)

type testServer struct {
	engine *gin.Engine
	tokens *usecase.TokenService
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T, checks map[string]handlers.ReadinessCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	server, err := miniredis.Run()
	require.NoError(t, err)
	client := red.NewClient(&red.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	fallback, err := cache.NewFallbackCache(256)
	require.NoError(t, err)
	resilient := cache.NewClient(client,
		cache.NewBreaker(cache.BreakerSettings{FailureThreshold: 1, RecoveryTimeout: time.Hour}),
		fallback, logger)
	keys := redisrepo.NewKeys("routes-test")

	cfg := &config.AppConfig{
		App: config.AppSettings{Env: "test"},
		JWT: config.JWTSettings{Issuer: "authcore-test", Audience: []string{"authcore-clients"}, RefreshTokenTTL: time.Hour},
		MFA: config.MFASettings{Issuer: "authcore", BackupCodeCount: 3, Skew: 1},
		RateLimit: config.RateLimitSettings{
			WindowDuration:    time.Minute,
			RefreshLimit:      3,
			MFAVerifyLimit:    20,
			LoginLimit:        20,
			DegradationPolicy: "lenient",
			StrictClasses:     []string{domain.RateClassMFAVerify},
		},
	}

	provider, err := security.NewEphemeralKeyProvider("routes-test")
	require.NoError(t, err)
	jwtManager, err := security.NewJWTManager(provider, security.JWTOptions{
		KeyID:    "routes-test",
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      15 * time.Minute,
	})
	require.NoError(t, err)

	hasher, err := security.NewArgon2BackupHasher(port.Argon2Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	require.NoError(t, err)

	verifier, err := passkey.NewVerifier(passkey.Config{
		RPID:          "localhost",
		RPDisplayName: "Authcore",
		RPOrigins:     []string{"http://localhost:8080"},
		Timeout:       5 * time.Minute,
	})
	require.NoError(t, err)

	directory := memory.NewUserDirectory([]string{"user"},
		domain.UserProfile{ID: "svc-issuer", Username: "svc-issuer", Roles: []string{httproutes.IssuerRole}},
	)
	audit := kafka.NewStubAuditSink(logger)

	tokens := usecase.NewTokenService(cfg.JWT, jwtManager, redisrepo.NewSessionStore(resilient, keys), directory, audit, logger)
	services := httproutes.ServiceSet{
		Tokens:    tokens,
		MFA:       usecase.NewMFAService(cfg.MFA, redisrepo.NewMFAStore(resilient, keys), directory, hasher, audit, logger),
		WebAuthn:  usecase.NewWebAuthnService(cfg.WebAuthn, verifier, redisrepo.NewChallengeStore(resilient, keys), redisrepo.NewCredentialStore(resilient, keys), directory, audit, logger),
		RateLimit: usecase.NewRateLimitService(cfg.RateLimit, redisrepo.NewRateLimitRepository(resilient, keys), audit, logger),
	}

	engine := httproutes.Register(httproutes.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Services: services,
		Keys:     jwtManager,
		Gatherer: prometheus.NewRegistry(),
		Cache:    resilient,
		Checks:   checks,
	})

	return &testServer{engine: engine, tokens: tokens, redis: server}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	s.engine.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) issue(t *testing.T, userID string) handlers.TokenResponse {
	t.Helper()
	pair, err := s.tokens.Issue(context.Background(), userID, domain.DeviceInfo{Label: "test"})
	require.NoError(t, err)
	return handlers.TokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken, SessionID: pair.SessionID}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t, map[string]handlers.ReadinessCheck{
		"database": func(context.Context) error { return nil },
	})

	rr := srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = srv.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decode[handlers.ReadinessResponse](t, rr).Checks["database"])

	rr = srv.do(t, http.MethodGet, "/health/cache", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decode[handlers.CacheHealthResponse](t, rr)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "closed", health.State)
	assert.True(t, health.RedisAvailable)

	rr = srv.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"routes-test"`)

	rr = srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReadinessFailsWhenCheckFails(t *testing.T) {
	srv := newTestServer(t, map[string]handlers.ReadinessCheck{
		"database": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := srv.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not_ready", decode[handlers.ReadinessResponse](t, rr).Status)
}

func TestTokenLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	issuer := srv.issue(t, "svc-issuer")

	rr := srv.do(t, http.MethodPost, "/internal/v1/sessions", issuer.AccessToken, handlers.IssueTokenRequest{
		UserID:      "user-1",
		DeviceLabel: "laptop",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	first := decode[handlers.TokenResponse](t, rr)
	assert.Equal(t, domain.TokenTypeBearer, first.TokenType)
	assert.Positive(t, first.ExpiresIn)

	rr = srv.do(t, http.MethodGet, "/api/v1/sessions/current", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	current := decode[handlers.SessionSummary](t, rr)
	assert.Equal(t, first.SessionID, current.ID)
	assert.Equal(t, "laptop", current.DeviceLabel)

	rr = srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", handlers.RefreshTokenRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	second := decode[handlers.TokenResponse](t, rr)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Remaining"))

	// Presenting the rotated token again revokes the session.
	rr = srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", handlers.RefreshTokenRequest{RefreshToken: first.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid credentials", decode[handlers.ErrorResponse](t, rr).Error)

	rr = srv.do(t, http.MethodGet, "/api/v1/sessions/current", second.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSessionManagement(t *testing.T) {
	srv := newTestServer(t, nil)
	first := srv.issue(t, "user-1")
	second := srv.issue(t, "user-1")
	other := srv.issue(t, "user-2")

	rr := srv.do(t, http.MethodGet, "/api/v1/sessions", first.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[handlers.SessionListResponse](t, rr)
	require.Len(t, list.Sessions, 2)

	rr = srv.do(t, http.MethodDelete, "/api/v1/sessions/"+other.SessionID, first.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = srv.do(t, http.MethodDelete, "/api/v1/sessions/"+second.SessionID, first.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/v1/sessions", second.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = srv.do(t, http.MethodPost, "/api/v1/auth/logout", first.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/v1/sessions", first.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestInternalRoutesRequireIssuerRole(t *testing.T) {
	srv := newTestServer(t, nil)
	user := srv.issue(t, "user-1")

	rr := srv.do(t, http.MethodPost, "/internal/v1/sessions", user.AccessToken, handlers.IssueTokenRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = srv.do(t, http.MethodPost, "/internal/v1/sessions", "", handlers.IssueTokenRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminRevokeUserSessions(t *testing.T) {
	srv := newTestServer(t, nil)
	issuer := srv.issue(t, "svc-issuer")
	srv.issue(t, "user-1")
	srv.issue(t, "user-1")

	rr := srv.do(t, http.MethodDelete, "/internal/v1/users/user-1/sessions", issuer.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, decode[handlers.RevokeAllResponse](t, rr).Revoked)
}

func TestRefreshIsRateLimited(t *testing.T) {
	srv := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		rr := srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", handlers.RefreshTokenRequest{RefreshToken: "bogus.token"})
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", handlers.RefreshTokenRequest{RefreshToken: "bogus.token"})
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
}

func TestInternalRateLimitCheck(t *testing.T) {
	srv := newTestServer(t, nil)
	issuer := srv.issue(t, "svc-issuer")

	rr := srv.do(t, http.MethodPost, "/internal/v1/rate-limit/check", issuer.AccessToken,
		handlers.RateLimitCheckRequest{Class: domain.RateClassRefresh, Identity: "reset:alice"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decision := decode[handlers.RateLimitCheckResponse](t, rr)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 2, decision.Remaining)

	rr = srv.do(t, http.MethodPost, "/internal/v1/rate-limit/check", issuer.AccessToken,
		handlers.RateLimitCheckRequest{Class: "unknown", Identity: "reset:alice"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMFAOverHTTP(t *testing.T) {
	srv := newTestServer(t, nil)
	user := srv.issue(t, "user-1")
	totp := security.NewTOTP("authcore", 1)

	rr := srv.do(t, http.MethodPost, "/api/v1/mfa/enroll", user.AccessToken, handlers.MFAEnrollRequest{AccountName: "alice"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	enrollment := decode[handlers.MFAEnrollResponse](t, rr)
	require.Len(t, enrollment.BackupCodes, 3)
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")

	code, err := totp.CodeAt(enrollment.Secret, totp.Step(time.Now()))
	require.NoError(t, err)

	rr = srv.do(t, http.MethodPost, "/api/v1/mfa/activate", user.AccessToken, handlers.MFACodeRequest{Code: code})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// The activation code's time step is spent.
	rr = srv.do(t, http.MethodPost, "/api/v1/mfa/verify", user.AccessToken, handlers.MFACodeRequest{Code: code})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "invalid credentials", decode[handlers.ErrorResponse](t, rr).Error)

	rr = srv.do(t, http.MethodPost, "/api/v1/mfa/backup-codes/verify", user.AccessToken, handlers.MFACodeRequest{Code: enrollment.BackupCodes[0]})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, decode[handlers.MFAVerifyResponse](t, rr).Valid)

	rr = srv.do(t, http.MethodPost, "/api/v1/mfa/backup-codes/verify", user.AccessToken, handlers.MFACodeRequest{Code: enrollment.BackupCodes[0]})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = srv.do(t, http.MethodGet, "/api/v1/mfa/status", user.AccessToken, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[handlers.MFAStatusResponse](t, rr)
	assert.True(t, status.Enabled)
	assert.Equal(t, 2, status.BackupCodesRemaining)

	rr = srv.do(t, http.MethodPost, "/api/v1/mfa/verify", user.AccessToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDegradedCache(t *testing.T) {
	srv := newTestServer(t, nil)
	user := srv.issue(t, "user-1")

	srv.redis.Close()

	rr := srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", handlers.RefreshTokenRequest{RefreshToken: user.RefreshToken})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Authcore-Degraded"))

	rr = srv.do(t, http.MethodPost, "/api/v1/mfa/verify", user.AccessToken, handlers.MFACodeRequest{Code: "123456"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = srv.do(t, http.MethodGet, "/health/cache", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	health := decode[handlers.CacheHealthResponse](t, rr)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "open", health.State)
	assert.True(t, health.DegradedMode)
	assert.False(t, health.RedisAvailable)
	assert.NotNil(t, health.LastFailureTime)
}

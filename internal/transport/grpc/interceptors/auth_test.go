package interceptors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/security"
)

type stubVerifier struct {
	claims     *security.AccessTokenClaims
	err        error
	sessionErr error
	sessions   []string
}

func (s *stubVerifier) VerifyAccess(string) (*security.AccessTokenClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.claims, nil
}

func (s *stubVerifier) ValidateSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.sessions = append(s.sessions, sessionID)
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return &domain.Session{ID: sessionID}, nil
}

func bearerContext(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

var privateMethod = &grpc.UnaryServerInfo{FullMethod: "/authcore.v1.Sessions/List"}

func TestAuthInterceptorAllowsValidTokens(t *testing.T) {
	verifier := &stubVerifier{claims: &security.AccessTokenClaims{UserID: "user-123", SessionID: "sess-1"}}
	interceptor := NewAuthInterceptor(verifier, AuthOptions{Logger: zaptest.NewLogger(t)}).UnaryServerInterceptor()

	handler := func(ctx context.Context, req any) (any, error) {
		got, ok := ClaimsFromContext(ctx)
		if !ok || got.UserID != "user-123" {
			t.Fatalf("claims missing from context")
		}
		return "ok", nil
	}

	if _, err := interceptor(bearerContext("token-value"), struct{}{}, privateMethod, handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(verifier.sessions) != 1 || verifier.sessions[0] != "sess-1" {
		t.Fatalf("expected bound session to be validated, got %v", verifier.sessions)
	}
}

func TestAuthInterceptorRejectsMissingToken(t *testing.T) {
	interceptor := NewAuthInterceptor(&stubVerifier{}, AuthOptions{}).UnaryServerInterceptor()

	if _, err := interceptor(context.Background(), struct{}{}, privateMethod, func(ctx context.Context, req any) (any, error) {
		t.Fatalf("handler should not be invoked")
		return nil, nil
	}); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
}

func TestAuthInterceptorPassesThroughAllowedMethods(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("should not be called")}
	interceptor := NewAuthInterceptor(verifier, AuthOptions{AllowMethods: []string{"/grpc.health.v1.Health/Check"}}).UnaryServerInterceptor()

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		return "pong", nil
	}); err != nil {
		t.Fatalf("expected allowed method to succeed, got %v", err)
	}
}

func TestAuthInterceptorMapsVerificationErrors(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubVerifier
		code     codes.Code
	}{
		{
			name:     "expired token",
			verifier: &stubVerifier{err: fmt.Errorf("%w: access token expired", domain.ErrExpired)},
			code:     codes.Unauthenticated,
		},
		{
			name:     "invalid token",
			verifier: &stubVerifier{err: fmt.Errorf("%w: bad signature", domain.ErrAuthentication)},
			code:     codes.Unauthenticated,
		},
		{
			name: "revoked session",
			verifier: &stubVerifier{
				claims:     &security.AccessTokenClaims{UserID: "u", SessionID: "s"},
				sessionErr: fmt.Errorf("%w: session revoked", domain.ErrAuthentication),
			},
			code: codes.Unauthenticated,
		},
		{
			name: "degraded session store",
			verifier: &stubVerifier{
				claims:     &security.AccessTokenClaims{UserID: "u", SessionID: "s"},
				sessionErr: domain.ErrDependencyDegraded,
			},
			code: codes.Unavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			interceptor := NewAuthInterceptor(tc.verifier, AuthOptions{}).UnaryServerInterceptor()
			_, err := interceptor(bearerContext("token"), struct{}{}, privateMethod, func(ctx context.Context, req any) (any, error) {
				t.Fatalf("handler should not be invoked")
				return nil, nil
			})
			if status.Code(err) != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestAuthInterceptorStreamCarriesClaims(t *testing.T) {
	verifier := &stubVerifier{claims: &security.AccessTokenClaims{UserID: "user-9"}}
	interceptor := NewAuthInterceptor(verifier, AuthOptions{}).StreamServerInterceptor()

	info := &grpc.StreamServerInfo{FullMethod: "/authcore.v1.Sessions/Watch", IsServerStream: true}
	stream := &mockServerStream{ctx: bearerContext("token")}

	err := interceptor(nil, stream, info, func(srv any, ss grpc.ServerStream) error {
		claims, ok := ClaimsFromContext(ss.Context())
		if !ok || claims.UserID != "user-9" {
			t.Fatalf("claims missing from stream context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(verifier.sessions) != 0 {
		t.Fatalf("token without session should skip session validation")
	}
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context {
	return m.ctx
}

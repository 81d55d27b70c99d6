package interceptors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/security"
)

const (
	authorizationKey = "authorization"
	bearerPrefix     = "bearer "
)

// AccessVerifier checks an access token and the session it is bound to.
type AccessVerifier interface {
	VerifyAccess(token string) (*security.AccessTokenClaims, error)
	ValidateSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// AuthOptions fine-tunes interceptor behaviour.
type AuthOptions struct {
	AllowMethods []string
	Logger       *zap.Logger
}

// AuthInterceptor validates incoming requests using JWT access tokens.
type AuthInterceptor struct {
	verifier AccessVerifier
	logger   *zap.Logger
	allow    map[string]struct{}
}

// NewAuthInterceptor constructs a new AuthInterceptor instance.
func NewAuthInterceptor(verifier AccessVerifier, opts AuthOptions) *AuthInterceptor {
	allow := make(map[string]struct{}, len(opts.AllowMethods))
	for _, method := range opts.AllowMethods {
		if method = strings.TrimSpace(method); method != "" {
			allow[method] = struct{}{}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthInterceptor{verifier: verifier, logger: logger, allow: allow}
}

// UnaryServerInterceptor returns a gRPC unary interceptor that enforces JWT authentication.
func (ai *AuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if ai == nil || ai.verifier == nil {
			return handler(ctx, req)
		}
		if _, ok := ai.allow[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		claims, err := ai.authenticate(ctx)
		if err != nil {
			ai.logger.Warn("gRPC authentication failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, err
		}
		return handler(WithClaims(ctx, claims), req)
	}
}

// StreamServerInterceptor enforces the same checks on streaming calls.
func (ai *AuthInterceptor) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if ai == nil || ai.verifier == nil {
			return handler(srv, ss)
		}
		if _, ok := ai.allow[info.FullMethod]; ok {
			return handler(srv, ss)
		}

		claims, err := ai.authenticate(ss.Context())
		if err != nil {
			ai.logger.Warn("gRPC authentication failed", zap.String("method", info.FullMethod), zap.Error(err))
			return err
		}
		return handler(srv, &claimsStream{ServerStream: ss, ctx: WithClaims(ss.Context(), claims)})
	}
}

func (ai *AuthInterceptor) authenticate(ctx context.Context) (*security.AccessTokenClaims, error) {
	token, err := tokenFromMetadata(ctx)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}

	claims, err := ai.verifier.VerifyAccess(token)
	if err != nil {
		if errors.Is(err, domain.ErrExpired) {
			return nil, status.Error(codes.Unauthenticated, "access token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid access token")
	}

	if claims.SessionID != "" {
		if _, err := ai.verifier.ValidateSession(ctx, claims.SessionID); err != nil {
			switch {
			case domain.IsAuthFailure(err):
				return nil, status.Error(codes.Unauthenticated, "session is no longer valid")
			case errors.Is(err, domain.ErrDependencyDegraded):
				return nil, status.Error(codes.Unavailable, "session store unavailable")
			default:
				return nil, status.Error(codes.Internal, "failed to validate session")
			}
		}
	}
	return claims, nil
}

type claimsStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *claimsStream) Context() context.Context {
	return s.ctx
}

// claimsContextKey stores token claims within the request context.
type claimsContextKey struct{}

// WithClaims returns a derived context containing token claims.
func WithClaims(ctx context.Context, claims *security.AccessTokenClaims) context.Context {
	if claims == nil {
		return ctx
	}
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext extracts token claims from context when available.
func ClaimsFromContext(ctx context.Context) (*security.AccessTokenClaims, bool) {
	if ctx == nil {
		return nil, false
	}
	claims, ok := ctx.Value(claimsContextKey{}).(*security.AccessTokenClaims)
	return claims, ok && claims != nil
}

func tokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("missing metadata")
	}

	values := md.Get(authorizationKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", errors.New("authorization token required")
	}

	value := strings.TrimSpace(values[0])
	if len(value) < len(bearerPrefix) || !strings.HasPrefix(strings.ToLower(value), bearerPrefix) {
		return "", errors.New("invalid authorization header")
	}

	token := strings.TrimSpace(value[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("authorization token required")
	}
	return token, nil
}

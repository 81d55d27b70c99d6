package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/transport/http/handlers"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// IssuerRole marks service identities allowed to open sessions on behalf of users.
const IssuerRole = "authcore:issuer"

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Tokens    *usecase.TokenService
	MFA       *usecase.MFAService
	WebAuthn  *usecase.WebAuthnService
	RateLimit *usecase.RateLimitService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Services ServiceSet
	Keys     handlers.KeySet
	Metrics  *middleware.HTTPMetrics
	Gatherer prometheus.Gatherer
	Cache    port.CacheHealthReporter
	Checks   map[string]handlers.ReadinessCheck
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())
	if deps.Config != nil && len(deps.Config.App.CORSOrigins) > 0 {
		r.Use(middleware.CORS(deps.Config.App.CORSOrigins))
	}

	healthOptions := []handlers.HealthOption{handlers.WithCacheHealth(deps.Cache)}
	for name, check := range deps.Checks {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck(name, check))
	}
	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)
	r.GET("/health/cache", healthHandler.CacheHealth)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Keys).Keys)

	if deps.Services.Tokens == nil {
		return r
	}

	limiter := middleware.NewRateLimiter(classLimiter(deps.Services.RateLimit), deps.Logger)
	limit := func(class string, identifier middleware.IdentifierFunc) gin.HandlerFunc {
		return limiter.RateLimit(middleware.RateLimitRule{Class: class, Identifier: identifier})
	}
	requireAuth := middleware.RequireAuth(deps.Services.Tokens)

	tokenHandler := handlers.NewTokenHandler(deps.Services.Tokens)
	sessionHandler := handlers.NewSessionHandler(deps.Services.Tokens)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		tokenHandler.RegisterRoutes(authGroup, requireAuth,
			limit(domain.RateClassRefresh, middleware.ClientIPIdentifier()))

		sessionGroup := api.Group("/sessions")
		sessionGroup.Use(requireAuth)
		sessionHandler.RegisterRoutes(sessionGroup)

		if deps.Services.MFA != nil {
			mfaGroup := api.Group("/mfa")
			mfaGroup.Use(requireAuth)
			handlers.NewMFAHandler(deps.Services.MFA).RegisterRoutes(mfaGroup,
				limit(domain.RateClassMFAVerify, middleware.AuthenticatedUserIdentifier()))
		}

		if deps.Services.WebAuthn != nil {
			webauthnHandler := handlers.NewWebAuthnHandler(deps.Services.WebAuthn, deps.Services.Tokens)
			webauthnHandler.RegisterLoginRoutes(authGroup.Group("/webauthn"),
				limiter.RateLimit(
					middleware.RateLimitRule{Class: domain.RateClassWebAuthn, Identifier: middleware.ClientIPIdentifier()},
					middleware.RateLimitRule{Class: domain.RateClassLogin, Identifier: middleware.JSONFieldIdentifier("user_id")},
				))

			credentialGroup := api.Group("/webauthn/credentials")
			credentialGroup.Use(requireAuth)
			webauthnHandler.RegisterCredentialRoutes(credentialGroup)
		}
	}

	internal := r.Group("/internal/v1")
	internal.Use(requireAuth, middleware.RequireRole(IssuerRole))
	{
		internal.POST("/sessions",
			limit(domain.RateClassLogin, middleware.JSONFieldIdentifier("user_id")),
			tokenHandler.Issue)
		internal.DELETE("/sessions/:session_id", sessionHandler.AdminRevokeSession)
		internal.DELETE("/users/:user_id/sessions", sessionHandler.AdminRevokeUserSessions)

		if deps.Services.RateLimit != nil {
			internal.POST("/rate-limit/check", handlers.NewRateLimitHandler(deps.Services.RateLimit).Check)
		}
	}

	return r
}

// classLimiter keeps a nil service from becoming a non-nil interface holding a nil pointer.
func classLimiter(service *usecase.RateLimitService) middleware.ClassLimiter {
	if service == nil {
		return nil
	}
	return service
}

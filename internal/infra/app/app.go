package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/cache"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/database"
	kafkainfra "github.com/arklim/authcore/internal/infra/kafka"
	"github.com/arklim/authcore/internal/infra/logger"
	"github.com/arklim/authcore/internal/infra/passkey"
	redisinfra "github.com/arklim/authcore/internal/infra/redis"
	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/infra/telemetry"
	"github.com/arklim/authcore/internal/repository/memory"
	postgresrepo "github.com/arklim/authcore/internal/repository/postgres"
	redisrepo "github.com/arklim/authcore/internal/repository/redis"
	transportgrpc "github.com/arklim/authcore/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/authcore/internal/transport/grpc/interceptors"
	"github.com/arklim/authcore/internal/transport/http/handlers"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/transport/http/routes"
	"github.com/arklim/authcore/internal/usecase"
)

var defaultUserRoles = []string{"user"}

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	telemetry  *telemetry.Provider
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	audit      *kafkainfra.AuditPublisher
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env, cfg.App.Name)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	telemetryProvider, err := telemetry.Attach(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	registry := telemetryProvider.Registry()

	a := &Application{
		cfg:       cfg,
		logger:    log,
		telemetry: telemetryProvider,
		grpcAddr:  fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}
	// Partially built infrastructure is released when construction fails.
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	keyProvider, ephemeral, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory, cfg.JWT.KeyID)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	if ephemeral {
		log.Warn("signing key directory not found, using an ephemeral key",
			zap.String("key_directory", cfg.JWT.KeyDirectory),
		)
	}
	jwtManager, err := security.NewJWTManager(keyProvider, security.JWTOptions{
		KeyID:    cfg.JWT.KeyID,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.AccessTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init jwt manager: %w", err)
	}

	backupHasher, err := security.NewArgon2BackupHasher(port.Argon2Params{
		Memory:      cfg.MFA.Argon2.Memory,
		Iterations:  cfg.MFA.Argon2.Iterations,
		Parallelism: cfg.MFA.Argon2.Parallelism,
		SaltLength:  cfg.MFA.Argon2.SaltLength,
		KeyLength:   cfg.MFA.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	verifier, err := passkey.NewVerifier(passkey.Config{
		RPID:          cfg.WebAuthn.RPID,
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
		Timeout:       cfg.WebAuthn.CeremonyTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init passkey verifier: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	a.redis = redisClient

	resilient, err := newResilientCache(cfg.Cache, redisClient, registry, telemetryProvider, log)
	if err != nil {
		return nil, err
	}
	keys := redisrepo.NewKeys(cfg.Redis.KeyPrefix)

	audit := a.newAuditSink(log)

	checks := map[string]handlers.ReadinessCheck{}
	var directory port.UserDirectory
	if cfg.Postgres.Host != "" {
		a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		directory = postgresrepo.NewUserDirectory(a.pool)
		checks["postgres"] = a.pool.Ping
	} else {
		log.Warn("postgres not configured, using in-memory user directory")
		directory = memory.NewUserDirectory(defaultUserRoles)
	}

	tokenService := usecase.NewTokenService(cfg.JWT, jwtManager,
		redisrepo.NewSessionStore(resilient, keys), directory, audit, log)
	services := routes.ServiceSet{
		Tokens: tokenService,
		MFA: usecase.NewMFAService(cfg.MFA,
			redisrepo.NewMFAStore(resilient, keys), directory, backupHasher, audit, log),
		WebAuthn: usecase.NewWebAuthnService(cfg.WebAuthn, verifier,
			redisrepo.NewChallengeStore(resilient, keys), redisrepo.NewCredentialStore(resilient, keys),
			directory, audit, log),
		RateLimit: usecase.NewRateLimitService(cfg.RateLimit,
			redisrepo.NewRateLimitRepository(resilient, keys), audit, log),
	}

	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init grpc metrics: %w", err)
	}

	a.grpcServer = transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Verifier:       tokenService,
		Cache:          resilient,
		Metrics:        grpcMetrics,
		TracerProvider: telemetryProvider.Tracing().TracerProvider(),
		Logger:         log,
	})

	a.engine = routes.Register(routes.Dependencies{
		Config:   cfg,
		Logger:   log,
		Services: services,
		Keys:     jwtManager,
		Metrics:  httpMetrics,
		Gatherer: registry,
		Cache:    resilient,
		Checks:   checks,
	})

	return a, nil
}

func newResilientCache(
	cfg config.CacheSettings,
	redisClient *redisinfra.Client,
	registry prometheus.Registerer,
	telemetryProvider *telemetry.Provider,
	log *zap.Logger,
) (*cache.Client, error) {
	metrics, err := cache.NewMetrics(cache.MetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init cache metrics: %w", err)
	}

	fallback, err := cache.NewFallbackCache(cfg.FallbackSize)
	if err != nil {
		return nil, fmt.Errorf("init fallback cache: %w", err)
	}

	breaker := cache.NewBreaker(cache.BreakerSettings{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout,
	}, cache.WithTransitionHook(metrics.ObserveTransition))

	return cache.NewClient(redisClient.Client(), breaker, fallback, log,
		cache.WithOpTimeout(cfg.OpTimeout),
		cache.WithMetrics(metrics),
		cache.WithTracer(telemetryProvider.Tracing().Tracer("github.com/arklim/authcore/internal/infra/cache")),
	), nil
}

func (a *Application) newAuditSink(log *zap.Logger) port.AuditSink {
	if len(a.cfg.Kafka.Brokers) == 0 {
		log.Info("kafka brokers not configured, audit events go to the log")
		return kafkainfra.NewStubAuditSink(log)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, log)
	if err != nil {
		log.Warn("failed to init kafka producer, audit events go to the log", zap.Error(err))
		return kafkainfra.NewStubAuditSink(log)
	}

	a.audit = kafkainfra.NewAuditPublisher(producer, a.cfg.App, a.cfg.Kafka.AuditBuffer, log)
	log.Info("kafka audit publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return a.audit
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.grpcServer.WatchCache(watchCtx)

	grpcErrCh := make(chan error, 1)
	lis, err := net.Listen("tcp", a.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
	go func() {
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.logger.Error("gRPC server error", zap.Error(err))
			grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
		}
	}()
	defer a.grpcServer.Shutdown()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting authcore API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	}
}

// close releases infrastructure in reverse order of construction.
func (a *Application) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("failed to close audit publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to shut down telemetry", zap.Error(err))
		}
	}
}

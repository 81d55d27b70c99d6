package transportgrpc

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/arklim/authcore/internal/core/port"
	grpcinterceptors "github.com/arklim/authcore/internal/transport/grpc/interceptors"
)

// CacheServiceName is the health service that follows the cache circuit breaker.
const CacheServiceName = "authcore.cache"

const defaultHealthPollInterval = 5 * time.Second

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	Verifier       grpcinterceptors.AccessVerifier
	Cache          port.CacheHealthReporter
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
	Logger         *zap.Logger
	PublicMethods  []string // methods that don't require authentication
	PollInterval   time.Duration
}

// Server bundles the gRPC server with its health registry.
type Server struct {
	*grpc.Server
	health       *health.Server
	cache        port.CacheHealthReporter
	pollInterval time.Duration
	logger       *zap.Logger
	cacheStatus  grpc_health_v1.HealthCheckResponse_ServingStatus
}

// NewServer wires the health and reflection services behind the auth, metrics and tracing
// interceptors. Health and reflection are always public.
func NewServer(deps ServerDependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	public := append([]string{
		grpc_health_v1.Health_Check_FullMethodName,
		grpc_health_v1.Health_Watch_FullMethodName,
		"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
		"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo",
	}, deps.PublicMethods...)
	authInterceptor := grpcinterceptors.NewAuthInterceptor(deps.Verifier, grpcinterceptors.AuthOptions{
		Logger:       logger,
		AllowMethods: public,
	})

	server := grpc.NewServer(
		grpcinterceptors.TracingServerOption(grpcinterceptors.TracingOptions{TracerProvider: deps.TracerProvider}),
		grpc.ChainUnaryInterceptor(deps.Metrics.UnaryServerInterceptor(), authInterceptor.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(deps.Metrics.StreamServerInterceptor(), authInterceptor.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	interval := deps.PollInterval
	if interval <= 0 {
		interval = defaultHealthPollInterval
	}

	s := &Server{
		Server:       server,
		health:       healthServer,
		cache:        deps.Cache,
		pollInterval: interval,
		logger:       logger,
	}
	s.syncCacheStatus()
	return s
}

// WatchCache keeps the cache health service in step with the breaker until ctx is done. The
// overall service stays SERVING while the cache is degraded.
func (s *Server) WatchCache(ctx context.Context) {
	if s.cache == nil {
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncCacheStatus()
		}
	}
}

// Shutdown marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}

func (s *Server) syncCacheStatus() {
	if s.cache == nil {
		return
	}

	next := grpc_health_v1.HealthCheckResponse_SERVING
	snapshot := s.cache.Health()
	if !snapshot.RedisAvailable {
		next = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	if next == s.cacheStatus {
		return
	}

	s.cacheStatus = next
	s.health.SetServingStatus(CacheServiceName, next)
	s.logger.Info("cache health status changed",
		zap.String("status", next.String()),
		zap.String("circuit_state", snapshot.State),
	)
}

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/infra/config"
)

// Provider bundles the metrics registry and the tracer provider for one process.
type Provider struct {
	registry *prometheus.Registry
	tracer   *TracerProvider
}

// Attach builds a dedicated Prometheus registry with runtime collectors and starts tracing.
func Attach(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	buildInfo := promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "authcore",
		Name:      "build_info",
		Help:      "Build and environment of the running engine.",
	}, []string{"version", "go_version", "env"})
	buildInfo.WithLabelValues(ServiceVersion, runtime.Version(), cfg.App.Env).Set(1)

	tracer, err := NewTracerProvider(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	return &Provider{registry: registry, tracer: tracer}, nil
}

// Registry is where every collector of the process registers.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// Tracing exposes the tracer provider.
func (p *Provider) Tracing() *TracerProvider {
	return p.tracer
}

// Shutdown flushes and stops tracing.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracer == nil {
		return nil
	}
	return errors.Join(p.tracer.ForceFlush(ctx), p.tracer.Shutdown(ctx))
}

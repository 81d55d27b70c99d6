package cache

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsOptions configures the cache collectors.
type MetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// Metrics mirrors cache counters and breaker state into Prometheus.
type Metrics struct {
	Calls        *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	BreakerState prometheus.Gauge
	Transitions  *prometheus.CounterVec
	FallbackSize prometheus.Gauge
}

// NewMetrics constructs and registers the cache collectors.
func NewMetrics(opts MetricsOptions) (*Metrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "authcore"
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	calls, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "calls_total",
		Help:      "Cache calls partitioned by operation and counter.",
	}, []string{"op", "counter"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "remote_duration_seconds",
		Help:      "Latency of remote cache calls in seconds.",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"op"}))
	if err != nil {
		return nil, err
	}

	state, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open).",
	}))
	if err != nil {
		return nil, err
	}

	transitions, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "breaker_transitions_total",
		Help:      "Circuit breaker state transitions.",
	}, []string{"from", "to"}))
	if err != nil {
		return nil, err
	}

	size, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "fallback_entries",
		Help:      "Entries held by the in-process fallback cache.",
	}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Calls:        calls,
		Duration:     duration,
		BreakerState: state,
		Transitions:  transitions,
		FallbackSize: size,
	}, nil
}

// ObserveTransition records a breaker state change. Safe on a nil receiver.
func (m *Metrics) ObserveTransition(from, to CircuitState) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.BreakerState.Set(float64(to))
}

func (m *Metrics) count(op opKind, c Counter) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(op.String(), c.String()).Inc()
}

func (m *Metrics) observe(op opKind, seconds float64) {
	if m == nil {
		return
	}
	m.Duration.WithLabelValues(op.String()).Observe(seconds)
}

func (m *Metrics) setFallbackSize(n int) {
	if m == nil {
		return
	}
	m.FallbackSize.Set(float64(n))
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return collector, fmt.Errorf("register cache collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return collector, fmt.Errorf("existing cache collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return collector, nil
}

package interceptors

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestGRPCMetricsUnaryInterceptorRecordsMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	interceptor := metrics.UnaryServerInterceptor()

	handler := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	if _, err := interceptor(context.Background(), struct{}{}, info, handler); err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}

	labels := prometheus.Labels{"service": "grpc.health.v1.Health", "method": "Check", "code": codes.OK.String()}

	if got := testutil.ToFloat64(metrics.requests.With(labels)); got != 1 {
		t.Fatalf("expected request counter 1, got %f", got)
	}

	if inflight := testutil.ToFloat64(metrics.inFlight.WithLabelValues("grpc.health.v1.Health")); inflight != 0 {
		t.Fatalf("expected in-flight gauge 0, got %f", inflight)
	}

	if samples := testutil.CollectAndCount(metrics.duration); samples == 0 {
		t.Fatalf("expected histogram to record observations")
	}
}

func TestGRPCMetricsUnaryInterceptorPropagatesErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	interceptor := metrics.UnaryServerInterceptor()

	handler := func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.Unauthenticated, "invalid access token")
	}

	info := &grpc.UnaryServerInfo{FullMethod: "/authcore.v1.Sessions/List"}

	if _, err := interceptor(context.Background(), struct{}{}, info, handler); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}

	labels := prometheus.Labels{"service": "authcore.v1.Sessions", "method": "List", "code": codes.Unauthenticated.String()}
	if got := testutil.ToFloat64(metrics.requests.With(labels)); got != 1 {
		t.Fatalf("expected request counter 1 for rejected call, got %f", got)
	}
}

func TestGRPCMetricsStreamInterceptorRecordsOnReturn(t *testing.T) {
	metrics, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch", IsServerStream: true}
	err = metrics.StreamServerInterceptor()(nil, &mockServerStream{ctx: context.Background()}, info,
		func(srv any, ss grpc.ServerStream) error {
			if got := testutil.ToFloat64(metrics.inFlight.WithLabelValues("grpc.health.v1.Health")); got != 1 {
				t.Fatalf("expected in-flight gauge 1 during stream, got %f", got)
			}
			return status.Error(codes.Canceled, "client went away")
		})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}

	labels := prometheus.Labels{"service": "grpc.health.v1.Health", "method": "Watch", "code": codes.Canceled.String()}
	if got := testutil.ToFloat64(metrics.requests.With(labels)); got != 1 {
		t.Fatalf("expected request counter 1, got %f", got)
	}
}

func TestNewGRPCMetricsReusesRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	second, err := NewGRPCMetrics(GRPCMetricsOptions{Registerer: registry})
	if err != nil {
		t.Fatalf("second construction failed: %v", err)
	}
	if first.requests != second.requests {
		t.Fatalf("expected the registered counter to be reused")
	}
}

func TestSplitFullMethod(t *testing.T) {
	cases := map[string][2]string{
		"/grpc.health.v1.Health/Check": {"grpc.health.v1.Health", "Check"},
		"":                             {"unknown", "unknown"},
		"/nomethod":                    {"nomethod", "unknown"},
		"/a/b/c":                       {"a/b/c", "unknown"},
	}
	for input, want := range cases {
		service, method := splitFullMethod(input)
		if service != want[0] || method != want[1] {
			t.Fatalf("splitFullMethod(%q) = %q, %q; want %q, %q", input, service, method, want[0], want[1])
		}
	}
}

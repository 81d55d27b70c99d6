package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Probes the gRPC health service, e.g. from a container HEALTHCHECK.
func main() {
	addr := flag.String("addr", "localhost:50051", "gRPC address of the engine")
	service := flag.String("service", "", "health service name; authcore.cache reports the cache breaker")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: *service})
	if err != nil {
		log.Fatalf("health check failed: %v", err)
	}

	fmt.Println(resp.GetStatus().String())
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		os.Exit(1)
	}
}

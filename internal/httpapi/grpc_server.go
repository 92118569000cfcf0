package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"keygate.io/internal/obs"
)

const serviceName = "keygate-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer exposes the standard gRPC health service backed by the same
// readiness probe as /readyz, for callers that prefer gRPC-level checks.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness readinessChecker
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(r readinessChecker) *GRPCServer {
	s := &GRPCServer{
		server:    grpc.NewServer(),
		health:    health.NewServer(),
		readiness: r,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Refresh re-evaluates readiness and publishes it to health watchers and the
// readiness gauge.
func (s *GRPCServer) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	obs.SetReady(true)
	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
}

// Serve blocks serving gRPC on lis.
func (s *GRPCServer) Serve(lis net.Listener) error {
	return s.server.Serve(lis)
}

// Stop gracefully stops the server.
func (s *GRPCServer) Stop() {
	s.server.GracefulStop()
}

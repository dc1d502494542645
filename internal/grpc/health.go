package grpc

import (
	"log"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chatroom-service/internal/observability"
)

// HealthServer exposes the standard gRPC health protocol for orchestrators.
type HealthServer struct {
	server  *grpclib.Server
	health  *health.Server
	service string
}

// NewHealthServer builds a server reporting SERVING for service and the empty service name.
func NewHealthServer(service string) *HealthServer {
	server := grpclib.NewServer(
		grpclib.StatsHandler(otelgrpc.NewServerHandler()),
		grpclib.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)

	s := &HealthServer{server: server, health: hs, service: service}
	s.SetServing(true)
	return s
}

// SetServing flips the reported status of the service.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.service, status)
}

// Serve blocks accepting connections on lis.
func (s *HealthServer) Serve(lis net.Listener) error {
	log.Printf("grpc health listening addr=%s", lis.Addr())
	return s.server.Serve(lis)
}

// Stop reports NOT_SERVING to watchers and drains in-flight calls.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name probes use to check the relay specifically.
const ServiceName = "chat.relay"

// HealthServer exposes the standard gRPC health protocol for orchestrators.
// It reports SERVING while running and NOT_SERVING once shutdown started.
type HealthServer struct {
	log     *slog.Logger
	address string
	server  *grpc.Server
	health  *health.Server
}

func NewHealthServer(log *slog.Logger, address string) *HealthServer {
	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	return &HealthServer{log: log, address: address, server: s, health: h}
}

func (s *HealthServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.Serve(ctx, listener)
}

// Serve blocks until ctx is canceled or the listener fails.
func (s *HealthServer) Serve(ctx context.Context, listener net.Listener) error {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Starting gRPC health server", "address", listener.Addr().String())
		if err := s.server.Serve(listener); err != nil && err != grpc.ErrServerStopped {
			errChan <- fmt.Errorf("gRPC health server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return nil
	case err := <-errChan:
		return err
	}
}

// Shutdown flips every service to NOT_SERVING before closing the server.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

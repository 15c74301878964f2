// Package server exposes the translation service over gRPC as
// translator.v1.JobService.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/doc-translator/internal/services/translation"
)

// Server owns the grpc.Server and its health endpoint.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// New registers the job service and grpc.health.v1 on a fresh grpc.Server.
func New(svc *translation.Service, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(logger))}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterJobServiceServer(gs, NewJobServer(svc, logger))

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	// empty string is the overall server health
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{grpc: gs, health: hs, logger: logger}
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("grpc.listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		s.logger.Info("grpc.stopped")
		return <-errCh
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.logger.Error("grpc.listen_failed", "addr", addr, "error", err)
		return err
	}
	return s.Serve(ctx, lis)
}

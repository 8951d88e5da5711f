package grpcserver

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/spoolq/internal/spool"
	"github.com/rzbill/spoolq/internal/workqueue"
	logpkg "github.com/rzbill/spoolq/pkg/log"
)

// Server owns the gRPC server instance.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger logpkg.Logger
	lis    net.Listener
}

// New constructs a gRPC server and registers the health and admin
// services. journal may be nil when history is disabled.
func New(sp *spool.Spool, journal Journal, logger logpkg.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	s := &Server{
		grpc:   grpc.NewServer(opts...),
		health: health.NewServer(),
		logger: logger.With(logpkg.Component("admin")),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.grpc.RegisterService(&adminServiceDesc, &adminSvc{spool: sp, journal: journal})
	return s
}

// OnTick marks the server healthy. It is meant for
// workqueue.ServerOptions.OnTick.
func (s *Server) OnTick(workqueue.TickStats) {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Stopped marks the server unhealthy once the dispatch loop has exited.
func (s *Server) Stopped() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("admin endpoint listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Serve accepts connections on lis until Close.
func (s *Server) Serve(lis net.Listener) error {
	s.lis = lis
	return s.grpc.Serve(lis)
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

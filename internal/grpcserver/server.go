package grpcserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/metrics"
)

const (
	ServiceName = "library"

	defaultCheckInterval = 5 * time.Second
	pingTimeout          = 2 * time.Second
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes grpc.health.v1 and reflection. The reported status follows
// the database: SERVING while pings succeed, NOT_SERVING otherwise.
type Server struct {
	grpc          *grpc.Server
	health        *health.Server
	pinger        Pinger
	checkInterval time.Duration
	logger        *zap.Logger
}

func NewServer(pinger Pinger, checkInterval time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}

	s := &Server{
		health:        health.NewServer(),
		pinger:        pinger,
		checkInterval: checkInterval,
		logger:        logger,
	}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.loggingInterceptor))

	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	return s
}

func (s *Server) Run(ctx context.Context, port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", port, err)
	}
	s.logger.Info("gRPC server listening", zap.String("port", port))
	return s.Serve(ctx, lis)
}

// Serve blocks until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	checkerCtx, stopChecker := context.WithCancel(ctx)
	defer stopChecker()
	go s.runChecker(checkerCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC server stopped")
	return nil
}

func (s *Server) runChecker(ctx context.Context) {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Server) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := s.pinger.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Database ping failed", zap.Error(err))
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) loggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	l := s.logger.With(
		zap.String("rpc_method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		metrics.OperationErrorsTotal.WithLabelValues("grpc").Inc()
		l.Warn("RPC failed", zap.String("code", status.Code(err).String()), zap.Error(err))
		return resp, err
	}
	l.Debug("RPC handled")
	return resp, nil
}

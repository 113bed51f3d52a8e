// Package health serves the standard grpc.health.v1 service. The warden is
// SERVING while its door watchdog keeps ticking.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service name clients may ask about besides "".
const ServiceName = "portunus.warden"

// missedTicks is how many watchdog intervals may pass without a tick before
// the service reports NOT_SERVING.
const missedTicks = 5

// Ticker is the watchdog as seen by the health check.
type Ticker interface {
	LastTick() time.Time
	Interval() time.Duration
}

type Server struct {
	healthpb.UnimplementedHealthServer

	ticker Ticker
	now    func() time.Time
	grpc   *grpc.Server
	logger zerolog.Logger
}

func NewServer(t Ticker, logger zerolog.Logger) *Server {
	return &Server{
		ticker: t,
		now:    time.Now,
		grpc:   grpc.NewServer(),
		logger: logger,
	}
}

func (s *Server) Check(_ context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	return &healthpb.HealthCheckResponse{Status: s.status()}, nil
}

func (s *Server) status() healthpb.HealthCheckResponse_ServingStatus {
	last := s.ticker.LastTick()
	if last.IsZero() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	if s.now().Sub(last) > missedTicks*s.ticker.Interval() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Healthy reports whether Check would answer SERVING.
func (s *Server) Healthy() bool {
	return s.status() == healthpb.HealthCheckResponse_SERVING
}

// Start listens on addr and serves until Stop.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health listen: %w", err)
	}

	healthpb.RegisterHealthServer(s.grpc, s)

	s.logger.Info().Str("addr", addr).Msg("grpc health listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Package grpchealth exposes the standard gRPC health service driven by the
// API readiness probe.
package grpchealth

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the named service reported next to the overall ("") status.
const ServiceName = "cardiavue.api"

const defaultInterval = 5 * time.Second

// ReadinessChecker is satisfied by httpapi.ReadyProbe.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Server keeps the health status in step with a readiness probe.
type Server struct {
	health   *health.Server
	probe    ReadinessChecker
	logger   *slog.Logger
	interval time.Duration
}

// New returns a Server that starts in NOT_SERVING until the first probe.
func New(probe ReadinessChecker, logger *slog.Logger, interval time.Duration) *Server {
	if interval <= 0 {
		interval = defaultInterval
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{health: hs, probe: probe, logger: logger, interval: interval}
}

// Register installs the health service on gs.
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.health)
}

// Refresh runs the probe once and publishes the result.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.probe.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if s.logger != nil {
			s.logger.Warn("grpc health: not ready", slog.String("error", err.Error()))
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Run refreshes the status every interval until ctx is done, then marks the
// server as shutting down so watchers see NOT_SERVING.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

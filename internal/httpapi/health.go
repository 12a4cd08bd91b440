package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"kmp.org/internal/obs"
)

// HealthService is the service name reported through grpc_health_v1 in
// addition to the overall "" entry.
const HealthService = "kmp.v1.Authorizations"

// HealthServer publishes readiness over the standard gRPC health protocol.
type HealthServer struct {
	*health.Server
	readiness readinessChecker
}

// NewHealthServer creates a health server. Everything reports NOT_SERVING
// until the first Refresh.
func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyCheck{}
	}
	s := &HealthServer{Server: health.NewServer(), readiness: r}
	s.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh runs the readiness check once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) error {
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		s.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	s.setAll(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx is done, then marks the server as
// shutting down.
func (s *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		if err := s.Refresh(checkCtx); err != nil && ctx.Err() == nil {
			obs.Logger().Warn("readiness check failed", "error", err)
		}
		cancel()
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *HealthServer) setAll(status healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", status)
	s.SetServingStatus(HealthService, status)
}

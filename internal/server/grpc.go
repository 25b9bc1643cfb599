package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer returns a gRPC server exposing only the standard health
// service, plus reflection for grpcurl.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s)
	return s, hs
}

// WatchHealth flips the overall gRPC serving status with the result of
// checks, every interval, until ctx is done.
func WatchHealth(ctx context.Context, hs *health.Server, checks map[string]Checker, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-t.C:
		}
		ok := true
		cctx, cancel := context.WithTimeout(ctx, interval)
		for name, check := range checks {
			if err := check(cctx); err != nil {
				logger.Warn("health.check.failed", "check", name, "error", err)
				ok = false
			}
		}
		cancel()
		if ok != serving {
			serving = ok
			st := healthpb.HealthCheckResponse_SERVING
			if !ok {
				st = healthpb.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus("", st)
			logger.Info("grpc.health.changed", "status", st.String())
		}
	}
}

package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/hospitalityhub/platform/libs/grpcx"
	"github.com/hospitalityhub/platform/libs/runtime"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// startGrpcServer serves grpc.health.v1. The overall status follows the same
// dependency checks as /readyz.
func startGrpcServer(ctx context.Context, logger *slog.Logger, port string, checks []runtime.ReadyCheck) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer(grpcx.UnaryServerLoggingInterceptor(logger))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go watchReadiness(ctx, hs, checks)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()

	return nil
}

func watchReadiness(ctx context.Context, hs *health.Server, checks []runtime.ReadyCheck) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if report := runtime.RunReadyChecks(ctx, 2*time.Second, checks...); report.Status != "ok" {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

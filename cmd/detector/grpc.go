package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalguard/signalguard/pkg/api/anomalyv1"
)

// snapshotService serves the aggregator's snapshot over gRPC.
type snapshotService struct {
	agg    *Aggregator
	logger *slog.Logger
}

func (s *snapshotService) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := anomalyv1.SnapshotToStruct(s.agg.GetSnapshot())
	if err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		return nil, status.Error(codes.Internal, "encode snapshot")
	}
	return out, nil
}

// newGRPCServer builds the gRPC server: the anomaly service, the standard
// health service and reflection. Server metrics are registered with reg.
// tlsCfg may be nil.
func newGRPCServer(agg *Aggregator, reg prometheus.Registerer, tlsCfg *tls.Config, logger *slog.Logger) (*grpc.Server, *health.Server, error) {
	serverMetrics := grpc_prometheus.NewServerMetrics()
	serverMetrics.EnableHandlingTimeHistogram()
	if err := reg.Register(serverMetrics); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return nil, nil, err
		}
	}

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(serverMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(serverMetrics.StreamServerInterceptor()),
	}
	if tlsCfg != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	server := grpc.NewServer(opts...)
	anomalyv1.RegisterAnomalyServiceServer(server, &snapshotService{agg: agg, logger: logger})

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(anomalyv1.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	reflection.Register(server)
	serverMetrics.InitializeMetrics(server)

	return server, healthServer, nil
}

// followReadiness flips the health status to SERVING once the first tick has
// completed. It returns when that happens or ctx is done.
func followReadiness(ctx context.Context, agg *Aggregator, hs *health.Server) {
	select {
	case <-ctx.Done():
	case <-agg.ReadyC():
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		hs.SetServingStatus(anomalyv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
}

// stopGRPC drains in-flight RPCs, forcing the stop after timeout.
func stopGRPC(server *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		server.Stop()
	}
}

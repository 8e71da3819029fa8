// Command detector implements the SignalGuard anomaly detector.
//
// The detector runs a continuous evaluation loop that:
//  1. Queries the metrics source for each service's error rate
//  2. Flags services whose error rate exceeds the threshold
//  3. Atomically replaces the served snapshot
//  4. Republishes flag and score gauges (scrape, and Pushgateway if set)
//  5. Optionally mirrors the snapshot to Redis
//
// The detector serves an HTTP API on port 8001 (configurable) providing:
//   - GET /api/anomalies - Current anomaly snapshot
//   - GET /healthz       - Liveness
//   - GET /readyz        - Readiness (first evaluation done)
//   - GET /metrics       - Prometheus metrics
//
// and a gRPC API on port 50051 (signalguard.v1.AnomalyService/GetSnapshot,
// grpc.health.v1.Health, reflection).
//
// Usage:
//
//	detector \
//	  -source-url=http://prometheus:9090 \
//	  -entities=orders,payments \
//	  -threshold=0.2 \
//	  -interval=30s
//
// Environment variables:
//
//	SOURCE_URL / PROMETHEUS_URL - Metrics source URL (default: http://localhost:9090)
//	TICK_INTERVAL_SECONDS       - Evaluation interval (default: 30)
//	THRESHOLD                   - Error-rate threshold (default: 0.2)
//	QUERY_TIMEOUT_SECONDS       - Per-query timeout (default: 5)
//	ENTITIES                    - Comma-separated services (default: orders,payments)
//	CONFIG_FILE                 - Optional YAML file, watched for changes
//	MIRROR                      - none or redis
//	PUSHGATEWAY_URL             - Push gauges to this Pushgateway
//	LOG_LEVEL                   - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT                  - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalguard/signalguard/cmd/detector/config"
	"github.com/signalguard/signalguard/cmd/detector/logger"
	"github.com/signalguard/signalguard/cmd/detector/metrics"
	"github.com/signalguard/signalguard/cmd/detector/router"
	"github.com/signalguard/signalguard/pkg/adapters"
	"github.com/signalguard/signalguard/pkg/httpx"
	"github.com/signalguard/signalguard/pkg/storage"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)

	log.Info("starting signalguard detector",
		"version", version,
		"source", cfg.Source,
		"source_url", cfg.SourceURL,
		"entities", cfg.Entities,
		"threshold", cfg.Threshold,
		"interval", cfg.Interval,
	)

	client, err := httpx.NewClient(cfg.TLS, cfg.QueryTimeout+time.Second)
	if err != nil {
		log.Error("failed to create source client", "error", err)
		return 1
	}

	adapter, err := adapters.New(cfg.Source, cfg.AdapterConfig, client)
	if err != nil {
		log.Error("failed to create adapter", "error", err)
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	agg, err := New(adapter, cfg.Settings(), cfg.QueryTimeout, log, m)
	if err != nil {
		log.Error("failed to create aggregator", "error", err)
		return 1
	}
	m.TrackSnapshotAge(func() time.Time { return agg.GetSnapshot().UpdatedAt })

	var mirror *storage.RedisStore
	if cfg.Mirror == config.MirrorRedis {
		mirror, err = storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			log.Error("failed to connect snapshot mirror", "addr", cfg.RedisAddr, "error", err)
			return 1
		}
		defer func() {
			if err := mirror.Close(); err != nil {
				log.Error("failed to close mirror", "error", err)
			}
		}()
		agg.SetMirror(mirror, cfg.QueryTimeout)
		log.Info("mirroring snapshots to redis", "addr", cfg.RedisAddr, "key", storage.DefaultRedisKey, "ttl", cfg.RedisTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	if cfg.PushgatewayURL != "" {
		pusher := metrics.NewPusher(cfg.PushgatewayURL, "signalguard", m, client, cfg.QueryTimeout, log)
		agg.SetPusher(pusher)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pusher.Run(ctx)
		}()
		log.Info("pushing anomaly gauges", "pushgateway", cfg.PushgatewayURL)
	}

	if cfg.ConfigFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, cfg, log, func(s config.Settings) {
				if err := agg.Reconfigure(s); err != nil {
					log.Error("failed to apply reloaded config", "error", err)
				}
			})
			if err != nil {
				log.Error("config watcher stopped", "error", err)
			}
		}()
	}

	serverTLS, err := cfg.TLS.ServerConfig()
	if err != nil {
		log.Error("failed to create TLS config", "error", err)
		return 1
	}

	staleAfter := 2 * cfg.Interval // Snapshot is stale if older than 2x the interval
	handler := router.SetupRoutes(agg, reg, staleAfter, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)
	if serverTLS != nil {
		httpServer.SetTLSConfig(serverTLS)
	}

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	grpcServer, healthServer, err := newGRPCServer(agg, reg, serverTLS, log)
	if err != nil {
		log.Error("failed to create gRPC server", "error", err)
		return 1
	}
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Error("failed to listen for gRPC", "addr", cfg.GRPCListen, "error", err)
			return 1
		}
		go func() {
			log.Info("starting gRPC server", "addr", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
		go followReadiness(ctx, agg, healthServer)
	}

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := agg.Run(ctx, cfg.Interval); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("evaluation loop failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
			exitCode = 1
		}
	}

	log.Info("shutting down")
	healthServer.Shutdown()
	cancel()
	<-loopDone
	wg.Wait()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		exitCode = 1
	}
	stopGRPC(grpcServer, 5*time.Second)

	log.Info("shutdown complete")
	return exitCode
}

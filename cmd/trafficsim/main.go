// Command trafficsim is a demo service producing the request metrics the
// detector watches.
//
// It serves two simulated endpoints, /orders and /payments, which sleep a
// random latency and fail with a fixed probability. Every request is counted
// in app_requests_total and app_request_errors_total, so the detector's
// default query sees a steady baseline error rate. A background loop can
// generate the traffic itself.
//
// Usage:
//
//	trafficsim -listen=:8000 -detector-url=http://localhost:8001 -rps=5
//
// Environment variables:
//
//	LISTEN              - HTTP listen address (default: :8000)
//	ANOMALY_SERVICE_URL - Detector base URL for /api/dashboard/anomalies
//	TRAFFIC             - Generate background traffic (default: true)
//	REQUESTS_PER_SECOND - Background rate (default: 5)
//	DATABASE_URL        - Postgres DSN for the request ledger (optional)
//	LOG_LEVEL           - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT          - Logging format: text, json (default: text)
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalguard/signalguard/cmd/trafficsim/config"
	"github.com/signalguard/signalguard/cmd/trafficsim/logger"
	"github.com/signalguard/signalguard/pkg/httpx"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.ParseFlags()
	log := logger.New(cfg)

	log.Info("starting signalguard traffic simulator",
		"version", version,
		"listen", cfg.Listen,
		"detector_url", cfg.DetectorURL,
		"traffic", cfg.Traffic,
		"rps", cfg.RequestsPerSecond,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	sim := NewSimulator(DefaultProfiles, newAppMetrics(reg), cfg.Seed, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.DatabaseURL != "" {
		pctx, pcancel := context.WithTimeout(ctx, 10*time.Second)
		ledger, err := NewPostgresLedger(pctx, cfg.DatabaseURL)
		pcancel()
		if err != nil {
			log.Error("failed to open request ledger", "error", err)
			return 1
		}
		defer ledger.Close()
		sim.SetLedger(ledger)
		log.Info("recording requests to postgres")
	}

	client := &http.Client{Timeout: cfg.ProxyTimeout}
	handler := SetupRoutes(sim, reg, client, cfg.DetectorURL, log)
	server := httpx.NewServer(cfg.Listen, handler, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	var wg sync.WaitGroup
	if cfg.Traffic && cfg.RequestsPerSecond > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sim.RunTraffic(ctx, cfg.RequestsPerSecond); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("traffic loop failed", "error", err)
			}
		}()
	}

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

	cancel()
	wg.Wait()
	if err := server.Stop(10 * time.Second); err != nil {
		log.Error("server shutdown failed", "error", err)
		exitCode = 1
	}
	log.Info("shutdown complete")
	return exitCode
}

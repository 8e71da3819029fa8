// Package router configures the detector's HTTP API.
//
// Routes configured:
//   - GET /api/anomalies - current snapshot as JSON
//   - GET /healthz       - liveness, always 200 OK
//   - GET /readyz        - 503 until the first evaluation pass has completed
//   - GET /metrics       - Prometheus exposition of the detector's registry
//
// Snapshots older than staleAfter carry an X-SignalGuard-Stale: true header.
// The snapshot endpoint never fails because of the evaluation loop: it always
// answers with the best snapshot available.
package router

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalguard/signalguard/pkg/httpx"
	"github.com/signalguard/signalguard/pkg/storage"
)

// StaleHeader marks snapshots older than the stale threshold.
const StaleHeader = "X-SignalGuard-Stale"

// SnapshotSource is what the routes read from.
type SnapshotSource interface {
	GetSnapshot() storage.Snapshot
	Ready() bool
}

// SetupRoutes builds the detector's handler. gatherer backs /metrics.
func SetupRoutes(src SnapshotSource, gatherer prometheus.Gatherer, staleAfter time.Duration, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandler())
	mux.Handle("GET /readyz", httpx.HealthHandlerWithCheck(func() error {
		if !src.Ready() {
			return errors.New("no evaluation completed yet")
		}
		return nil
	}))
	mux.HandleFunc("GET /api/anomalies", handleGetAnomalies(src, staleAfter, logger))
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}))

	return httpx.Chain(mux,
		httpx.LoggingMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
	)
}

func handleGetAnomalies(src SnapshotSource, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := src.GetSnapshot()

		if staleAfter > 0 && time.Since(snapshot.UpdatedAt) > staleAfter {
			w.Header().Set(StaleHeader, "true")
		}
		w.Header().Set("Cache-Control", "no-store")

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

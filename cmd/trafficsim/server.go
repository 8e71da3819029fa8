package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalguard/signalguard/pkg/httpx"
)

type endpointResponse struct {
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Meta    Result `json:"meta"`
}

type proxyError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

var endpointMessages = map[string][2]string{
	EndpointOrders:   {"Order processed", "Order processing failed"},
	EndpointPayments: {"Payment processed", "Payment failed"},
}

// SetupRoutes wires the simulator endpoints, the dashboard API and the
// detector proxy.
func SetupRoutes(sim *Simulator, gatherer prometheus.Gatherer, client *http.Client, detectorURL string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	detectorURL = strings.TrimRight(detectorURL, "/")

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})

	for _, endpoint := range sim.Endpoints() {
		mux.HandleFunc("GET /"+endpoint, endpointHandler(sim, endpoint, logger))
	}

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/dashboard/summary", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sim.Summary(), logger)
	})

	mux.HandleFunc("GET /api/dashboard/anomalies", func(w http.ResponseWriter, r *http.Request) {
		body, err := fetchAnomalies(r, client, detectorURL)
		if err != nil {
			logger.Warn("anomaly proxy failed", "detector", detectorURL, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, proxyError{
				Status:  "error",
				Message: "Anomaly service unavailable",
			}, logger)
			return
		}
		writeJSON(w, http.StatusOK, body, logger)
	})

	return httpx.Chain(mux,
		httpx.LoggingMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
	)
}

func endpointHandler(sim *Simulator, endpoint string, logger *slog.Logger) http.HandlerFunc {
	msgs, ok := endpointMessages[endpoint]
	if !ok {
		msgs = [2]string{"Request processed", "Request failed"}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := sim.Simulate(r.Context(), endpoint)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Debug("simulation aborted", "endpoint", endpoint, "error", err)
			return
		}
		if err != nil {
			logger.Error("simulation failed", "endpoint", endpoint, "error", err)
			httpx.WriteErrorMessage(w, http.StatusNotFound, err.Error())
			return
		}
		if res.Error {
			writeJSON(w, http.StatusInternalServerError, endpointResponse{Detail: msgs[1], Meta: res}, logger)
			return
		}
		writeJSON(w, http.StatusOK, endpointResponse{Message: msgs[0], Meta: res}, logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		logger.Error("failed to write JSON response", "status", status, "error", err)
	}
}

func fetchAnomalies(r *http.Request, client *http.Client, detectorURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, detectorURL+"/api/anomalies", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("detector returned status %d", resp.StatusCode)
	}
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}
	return body, nil
}

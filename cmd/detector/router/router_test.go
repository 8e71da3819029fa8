package router

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/signalguard/signalguard/cmd/detector/metrics"
	"github.com/signalguard/signalguard/pkg/storage"
)

type fakeSource struct {
	snapshot storage.Snapshot
	ready    atomic.Bool
}

func (f *fakeSource) GetSnapshot() storage.Snapshot { return f.snapshot }
func (f *fakeSource) Ready() bool                   { return f.ready.Load() }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exampleSource(updatedAt time.Time) *fakeSource {
	return &fakeSource{snapshot: storage.Snapshot{
		Services: map[string]storage.EntityState{
			"orders":   {Flag: 1, Score: 2.5, ErrorRate: 0.5},
			"payments": {Flag: 0, Score: 0.5, ErrorRate: 0.1},
		},
		UpdatedAt: updatedAt,
	}}
}

func TestGetAnomalies(t *testing.T) {
	src := exampleSource(time.Now())
	handler := SetupRoutes(src, prometheus.NewRegistry(), time.Minute, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/anomalies", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get(StaleHeader) != "" {
		t.Errorf("fresh snapshot marked stale")
	}

	var body struct {
		Services map[string]struct {
			Flag      int     `json:"flag"`
			Score     float64 `json:"score"`
			ErrorRate float64 `json:"errorRate"`
		} `json:"services"`
		UpdatedAt float64 `json:"updatedAt"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	orders := body.Services["orders"]
	if orders.Flag != 1 || orders.Score != 2.5 || orders.ErrorRate != 0.5 {
		t.Errorf("orders = %+v", orders)
	}
	payments := body.Services["payments"]
	if payments.Flag != 0 || payments.Score != 0.5 || payments.ErrorRate != 0.1 {
		t.Errorf("payments = %+v", payments)
	}
	if want := storage.UnixSeconds(src.snapshot.UpdatedAt); body.UpdatedAt != want {
		t.Errorf("updatedAt = %v, want %v", body.UpdatedAt, want)
	}
}

func TestGetAnomalies_Stale(t *testing.T) {
	src := exampleSource(time.Now().Add(-2 * time.Minute))
	handler := SetupRoutes(src, prometheus.NewRegistry(), time.Minute, testLogger())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/anomalies", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even when stale", w.Code)
	}
	if w.Header().Get(StaleHeader) != "true" {
		t.Errorf("%s = %q, want true", StaleHeader, w.Header().Get(StaleHeader))
	}
}

func TestGetAnomalies_MethodNotAllowed(t *testing.T) {
	handler := SetupRoutes(exampleSource(time.Now()), prometheus.NewRegistry(), time.Minute, testLogger())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/anomalies", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	src := exampleSource(time.Now())
	handler := SetupRoutes(src, prometheus.NewRegistry(), time.Minute, testLogger())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("/healthz = %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before first tick = %d, want 503", w.Code)
	}

	src.ready.Store(true)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/readyz after first tick = %d, want 200", w.Code)
	}
}

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	src := exampleSource(time.Now())
	m.Publish(src.snapshot)

	handler := SetupRoutes(src, reg, time.Minute, testLogger())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "text/plain")
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("Content-Type = %q, want text exposition", w.Header().Get("Content-Type"))
	}

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(w.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}

	want := map[string]map[string]float64{
		"signalguard_anomaly_flag":  {"orders": 1, "payments": 0},
		"signalguard_anomaly_score": {"orders": 2.5, "payments": 0.5},
	}
	for name, perService := range want {
		mf, ok := families[name]
		if !ok {
			t.Errorf("family %s missing", name)
			continue
		}
		got := make(map[string]float64)
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "service" {
					got[lp.GetValue()] = metric.GetGauge().GetValue()
				}
			}
		}
		for service, v := range perService {
			if got[service] != v {
				t.Errorf("%s{service=%q} = %v, want %v", name, service, got[service], v)
			}
		}
	}
}

func TestRecoversFromPanickingSource(t *testing.T) {
	handler := SetupRoutes(panicSource{}, prometheus.NewRegistry(), time.Minute, testLogger())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/anomalies", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

type panicSource struct{}

func (panicSource) GetSnapshot() storage.Snapshot { panic("boom") }
func (panicSource) Ready() bool                   { return true }

package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// VictoriaMetricsAdapter evaluates instant queries against VictoriaMetrics
// through its Prometheus-compatible /api/v1/query endpoint.
type VictoriaMetricsAdapter struct {
	// ServerURL is the base URL to VictoriaMetrics, e.g. http://victoria-metrics:8428
	ServerURL string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
	// Aggregate selects the multi-series reduction (AggregateFirst if empty).
	Aggregate string

	once  sync.Once
	inner *PrometheusAdapter
}

func (v *VictoriaMetricsAdapter) Name() string { return "victoria-metrics" }

// Sample implements Adapter.
func (v *VictoriaMetricsAdapter) Sample(ctx context.Context, query string) (float64, error) {
	if v.ServerURL == "" || query == "" {
		return 0, errors.New("victoria metrics adapter: ServerURL and query are required")
	}

	v.once.Do(func() {
		v.inner = &PrometheusAdapter{ServerURL: v.ServerURL, HTTPClient: v.HTTPClient, Aggregate: v.Aggregate}
	})

	val, err := v.inner.Sample(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("victoria-metrics: %w", err)
	}
	return val, nil
}

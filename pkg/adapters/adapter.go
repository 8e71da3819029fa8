// Package adapters provides SignalGuard metrics-source connectors. Each
// adapter evaluates a query string against an external time-series system and
// reduces the result to a single float sample.
//
// Available adapters:
//   - PrometheusAdapter: instant queries via the Prometheus HTTP API
//   - VictoriaMetricsAdapter: the same protocol against VictoriaMetrics
//   - HTTPAdapter: any JSON API, value picked with a gjson path
//
// Sources are treated as unreliable. Adapters return typed errors
// (ErrNoData, ErrInvalidSample) so callers can decide how to degrade; they
// never substitute a default value themselves.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrNoData is returned when the query succeeded but produced no samples.
	ErrNoData = errors.New("query returned no data")

	// ErrInvalidSample is returned when the result cannot be read as a
	// finite, non-negative rate.
	ErrInvalidSample = errors.New("invalid sample")
)

// Adapter is the interface that all metrics sources implement.
//
// Sample is synchronous and must respect context cancellation and deadlines.
type Adapter interface {
	// Sample evaluates query and returns a single scalar value.
	Sample(ctx context.Context, query string) (float64, error)

	// Name returns a short, unique identifier for the adapter.
	// Example: "prometheus", "http".
	Name() string
}

// Reductions for results holding several series. The first series is used
// unless a source is configured to sum them.
const (
	AggregateFirst = "first"
	AggregateSum   = "sum"
)

// validateAggregate reports whether agg names a known reduction. An empty
// value means AggregateFirst.
func validateAggregate(agg string) error {
	switch agg {
	case "", AggregateFirst, AggregateSum:
		return nil
	default:
		return fmt.Errorf("unknown aggregate %q (must be first or sum)", agg)
	}
}

// checkSample rejects values that cannot be an error rate.
func checkSample(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite value %v", ErrInvalidSample, v)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: negative value %v", ErrInvalidSample, v)
	}
	return v, nil
}

package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PrometheusAdapter evaluates instant queries through the Prometheus HTTP API
// (/api/v1/query).
//
// If the query returns several series only the first one is read. Set
// Aggregate to AggregateSum to add them up instead.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus:9090
	ServerURL string
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
	// Aggregate selects the multi-series reduction (AggregateFirst if empty).
	Aggregate string

	once    sync.Once
	api     promv1.API
	initErr error
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Sample implements Adapter.
func (p *PrometheusAdapter) Sample(ctx context.Context, query string) (float64, error) {
	if p.ServerURL == "" || query == "" {
		return 0, errors.New("prometheus adapter: ServerURL and query are required")
	}

	promAPI, err := p.client()
	if err != nil {
		return 0, err
	}

	value, _, err := promAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("prometheus query: %w", err)
	}

	return ExtractSample(value, p.Aggregate)
}

func (p *PrometheusAdapter) client() (promv1.API, error) {
	p.once.Do(func() {
		cli := p.HTTPClient
		if cli == nil {
			cli = &http.Client{Timeout: 10 * time.Second}
		}
		c, err := api.NewClient(api.Config{Address: p.ServerURL, Client: cli})
		if err != nil {
			p.initErr = fmt.Errorf("invalid ServerURL: %w", err)
			return
		}
		p.api = promv1.NewAPI(c)
	})
	return p.api, p.initErr
}

// ExtractSample reduces a query result to one value. Scalars are taken as
// is. For vectors and matrices (last point of each series) the first series
// is used, or all of them are summed when agg is AggregateSum.
func ExtractSample(v model.Value, agg string) (float64, error) {
	sum := agg == AggregateSum
	switch r := v.(type) {
	case nil:
		return 0, ErrNoData
	case model.Vector:
		if len(r) == 0 {
			return 0, ErrNoData
		}
		if !sum {
			return checkSample(float64(r[0].Value))
		}
		var total float64
		for _, s := range r {
			total += float64(s.Value)
		}
		return checkSample(total)
	case *model.Scalar:
		if r == nil {
			return 0, ErrNoData
		}
		return checkSample(float64(r.Value))
	case model.Matrix:
		var (
			total float64
			seen  bool
		)
		for _, s := range r {
			if len(s.Values) == 0 {
				continue
			}
			last := float64(s.Values[len(s.Values)-1].Value)
			if !sum {
				return checkSample(last)
			}
			total += last
			seen = true
		}
		if !seen {
			return 0, ErrNoData
		}
		return checkSample(total)
	default:
		return 0, fmt.Errorf("%w: unsupported result type %s", ErrInvalidSample, v.Type())
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"
)

// Endpoint names.
const (
	EndpointOrders   = "orders"
	EndpointPayments = "payments"
)

// Profile controls how a simulated endpoint behaves.
type Profile struct {
	ErrorProbability float64
	MinLatency       time.Duration
	MaxLatency       time.Duration
}

// DefaultProfiles gives each endpoint a steady baseline error rate below the
// detector's default threshold.
var DefaultProfiles = map[string]Profile{
	EndpointOrders:   {ErrorProbability: 0.08, MinLatency: 30 * time.Millisecond, MaxLatency: 300 * time.Millisecond},
	EndpointPayments: {ErrorProbability: 0.12, MinLatency: 30 * time.Millisecond, MaxLatency: 300 * time.Millisecond},
}

// Result describes one simulated request.
type Result struct {
	Endpoint string  `json:"endpoint"`
	Status   int     `json:"status"`
	Duration float64 `json:"duration"`
	Error    bool    `json:"error"`
}

// Ledger receives every simulated request. Implementations must be safe for
// concurrent use.
type Ledger interface {
	Record(ctx context.Context, r Result) error
}

type endpointStats struct {
	requests int
	errors   int
}

// Simulator produces synthetic requests and keeps both Prometheus series and
// in-memory totals for the dashboard.
type Simulator struct {
	profiles  map[string]Profile
	endpoints []string
	metrics   *appMetrics
	ledger    Ledger
	logger    *slog.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	stats map[string]*endpointStats
}

// NewSimulator creates a simulator for profiles seeded with seed.
func NewSimulator(profiles map[string]Profile, m *appMetrics, seed uint64, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		profiles: profiles,
		metrics:  m,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
		stats:    make(map[string]*endpointStats, len(profiles)),
	}
	for name := range profiles {
		s.endpoints = append(s.endpoints, name)
		s.stats[name] = &endpointStats{}
	}
	slices.Sort(s.endpoints)
	return s
}

// SetLedger registers a ledger for every request. Call before serving.
func (s *Simulator) SetLedger(l Ledger) {
	s.ledger = l
}

// Endpoints returns the simulated endpoint names in sorted order.
func (s *Simulator) Endpoints() []string {
	return append([]string(nil), s.endpoints...)
}

// Simulate runs one request against endpoint. It returns an error only for an
// unknown endpoint or when ctx ends before the simulated work completes.
func (s *Simulator) Simulate(ctx context.Context, endpoint string) (Result, error) {
	p, ok := s.profiles[endpoint]
	if !ok {
		return Result{}, fmt.Errorf("unknown endpoint %q", endpoint)
	}
	start := time.Now()

	s.mu.Lock()
	latency := p.MinLatency
	if spread := p.MaxLatency - p.MinLatency; spread > 0 {
		latency += time.Duration(s.rng.Int64N(int64(spread)))
	}
	failed := s.rng.Float64() < p.ErrorProbability
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	status := 200
	if failed {
		status = 500
	}
	r := Result{
		Endpoint: endpoint,
		Status:   status,
		Duration: time.Since(start).Seconds(),
		Error:    failed,
	}
	s.record(ctx, r)
	return r, nil
}

func (s *Simulator) record(ctx context.Context, r Result) {
	if s.metrics != nil {
		s.metrics.requests.WithLabelValues(r.Endpoint, strconv.Itoa(r.Status)).Inc()
		s.metrics.latency.WithLabelValues(r.Endpoint).Observe(r.Duration)
		if r.Error {
			s.metrics.errors.WithLabelValues(r.Endpoint).Inc()
		} else {
			switch r.Endpoint {
			case EndpointOrders:
				s.metrics.orders.Inc()
			case EndpointPayments:
				s.metrics.payments.Inc()
			}
		}
	}

	s.mu.Lock()
	st := s.stats[r.Endpoint]
	st.requests++
	if r.Error {
		st.errors++
	}
	s.mu.Unlock()

	if s.ledger != nil {
		if err := s.ledger.Record(context.WithoutCancel(ctx), r); err != nil {
			s.logger.Warn("failed to record request", "endpoint", r.Endpoint, "error", err)
		}
	}
}

// ServiceSummary holds per-endpoint dashboard totals.
type ServiceSummary struct {
	Requests  int     `json:"requests"`
	Errors    int     `json:"errors"`
	ErrorRate float64 `json:"errorRate"`
}

// Summary holds the dashboard totals since start.
type Summary struct {
	TotalRequests int                       `json:"totalRequests"`
	TotalErrors   int                       `json:"totalErrors"`
	ErrorRate     float64                   `json:"errorRate"`
	Services      map[string]ServiceSummary `json:"services"`
}

// Summary returns the totals recorded so far.
func (s *Simulator) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{Services: make(map[string]ServiceSummary, len(s.stats))}
	for name, st := range s.stats {
		out.TotalRequests += st.requests
		out.TotalErrors += st.errors
		out.Services[name] = ServiceSummary{
			Requests:  st.requests,
			Errors:    st.errors,
			ErrorRate: ratio(st.errors, st.requests),
		}
	}
	out.ErrorRate = ratio(out.TotalErrors, out.TotalRequests)
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// RunTraffic fires rps requests at random endpoints every second until ctx
// is canceled, then waits for outstanding requests.
func (s *Simulator) RunTraffic(ctx context.Context, rps int) error {
	if rps <= 0 {
		return fmt.Errorf("requests per second must be > 0, got %d", rps)
	}
	s.logger.Info("starting background traffic", "rps", rps, "endpoints", s.endpoints)

	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	burst := func() {
		for i := 0; i < rps; i++ {
			endpoint := s.pick()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Simulate(ctx, endpoint); err != nil && ctx.Err() == nil {
					s.logger.Warn("simulated request failed", "endpoint", endpoint, "error", err)
				}
			}()
		}
	}

	burst()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("background traffic stopped")
			return ctx.Err()
		case <-ticker.C:
			burst()
		}
	}
}

func (s *Simulator) pick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[s.rng.IntN(len(s.endpoints))]
}

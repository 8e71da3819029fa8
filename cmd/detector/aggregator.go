// Package main implements the SignalGuard detector.
//
// This file contains the Aggregator, which runs the evaluation loop:
//
//	query (per entity, concurrently) → score → swap snapshot → publish
//
// Run executes Tick at a fixed interval. Each tick queries the metrics source
// for every entity, scores the samples against the threshold, and replaces
// the served snapshot in one atomic swap. Afterwards the anomaly gauges are
// republished and the snapshot is mirrored, both best-effort.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signalguard/signalguard/cmd/detector/config"
	"github.com/signalguard/signalguard/cmd/detector/metrics"
	"github.com/signalguard/signalguard/pkg/adapters"
	"github.com/signalguard/signalguard/pkg/scoring"
	"github.com/signalguard/signalguard/pkg/storage"
)

// Query failure reasons, used as the reason label.
const (
	reasonNoData        = "no_data"
	reasonInvalidSample = "invalid_sample"
	reasonTimeout       = "timeout"
	reasonRequestFailed = "request_failed"
	reasonPanic         = "panic"
	reasonBadQuery      = "bad_query"
)

// plan is the immutable per-tick configuration. Reconfigure swaps it whole.
type plan struct {
	entities []string
	policy   scoring.Policy
	query    *scoring.QueryTemplate
	window   time.Duration
}

func newPlan(s config.Settings) (*plan, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	query, err := scoring.ParseQueryTemplate(s.QueryTemplate)
	if err != nil {
		return nil, err
	}
	return &plan{
		entities: append([]string(nil), s.Entities...),
		policy:   scoring.Policy{Threshold: s.Threshold},
		query:    query,
		window:   s.Window,
	}, nil
}

// notifier is satisfied by *metrics.Pusher.
type notifier interface {
	Notify()
}

// Aggregator evaluates every entity on each tick and serves the latest
// snapshot. GetSnapshot and Ready are safe for concurrent use with Run.
type Aggregator struct {
	adapter      adapters.Adapter
	store        *storage.MemoryStore
	queryTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mirror        storage.Store
	mirrorTimeout time.Duration
	pusher        notifier

	plan      atomic.Pointer[plan]
	ready     atomic.Bool
	readyCh   chan struct{}
	readyOnce sync.Once

	now func() time.Time
}

// New creates an Aggregator whose initial snapshot holds zero-valued states
// for every configured entity.
func New(
	adapter adapters.Adapter,
	settings config.Settings,
	queryTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Aggregator, error) {
	if adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if queryTimeout <= 0 {
		return nil, errors.New("query timeout must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p, err := newPlan(settings)
	if err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	a := &Aggregator{
		adapter:      adapter,
		queryTimeout: queryTimeout,
		logger:       logger,
		metrics:      m,
		readyCh:      make(chan struct{}),
		now:          time.Now,
	}
	a.plan.Store(p)
	a.store = storage.NewMemoryStore(storage.NewSnapshot(p.entities, a.now()))

	return a, nil
}

// SetMirror makes every new snapshot be written to store as well. Writes are
// bounded by timeout and failures are only logged. Call before Run.
func (a *Aggregator) SetMirror(store storage.Store, timeout time.Duration) {
	a.mirror = store
	a.mirrorTimeout = timeout
}

// SetPusher registers a sink to notify after each publish. Call before Run.
func (a *Aggregator) SetPusher(p notifier) {
	a.pusher = p
}

// GetSnapshot returns the current snapshot without blocking.
func (a *Aggregator) GetSnapshot() storage.Snapshot {
	return a.store.Latest()
}

// Ready reports whether at least one tick has completed.
func (a *Aggregator) Ready() bool {
	return a.ready.Load()
}

// ReadyC is closed when the first tick completes.
func (a *Aggregator) ReadyC() <-chan struct{} {
	return a.readyCh
}

// Entities returns the entities evaluated by the next tick.
func (a *Aggregator) Entities() []string {
	return append([]string(nil), a.plan.Load().entities...)
}

// Reconfigure replaces entities, threshold and query from the next tick on.
// The served snapshot is untouched until that tick swaps in a new one.
func (a *Aggregator) Reconfigure(settings config.Settings) error {
	p, err := newPlan(settings)
	if err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	a.plan.Store(p)
	a.logger.Info("aggregator reconfigured",
		"entities", p.entities,
		"threshold", p.policy.Threshold,
		"query", p.query.String(),
		"window", p.window,
	)
	return nil
}

// Run executes the evaluation loop at regular intervals, starting with an
// immediate tick. Blocks until ctx is canceled. A tick in progress when ctx
// is canceled completes first.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("interval must be > 0")
	}
	a.logger.Info("starting evaluation loop", "interval", interval, "entities", a.Entities())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := a.Tick(ctx); err != nil {
		a.logger.Error("initial evaluation tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("evaluation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				a.logger.Error("evaluation tick failed", "error", err)
			}
		}
	}
}

// Tick performs one evaluation pass. Per-entity failures never fail the
// tick; an error is returned only if the tick itself broke (a panic outside
// the queries), in which case the previous snapshot stays in place.
// Exported for testing purposes.
func (a *Aggregator) Tick(ctx context.Context) (err error) {
	start := time.Now()
	p := a.plan.Load()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
			a.logger.Error("evaluation tick panicked", "panic", r, "stack", string(debug.Stack()))
			if a.metrics != nil {
				a.metrics.RecordTick(metrics.OutcomePanic, time.Since(start).Seconds())
			}
		}
	}()

	states := make([]storage.EntityState, len(p.entities))
	failed := make([]bool, len(p.entities))

	var wg sync.WaitGroup
	for i, entity := range p.entities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sample, ok := a.sample(ctx, p, entity)
			states[i] = p.policy.Evaluate(sample)
			failed[i] = !ok
		}()
	}
	wg.Wait()
	collectDuration := time.Since(start)

	snapshot := storage.Snapshot{
		Services:  make(map[string]storage.EntityState, len(p.entities)),
		UpdatedAt: a.now(),
	}
	var anomalies, failures int
	for i, entity := range p.entities {
		snapshot.Services[entity] = states[i]
		if states[i].Flag == 1 {
			anomalies++
			a.logger.Warn("anomaly detected",
				"entity", entity,
				"error_rate", states[i].ErrorRate,
				"score", states[i].Score,
			)
		}
		if failed[i] {
			failures++
		}
	}

	// The snapshot is complete; the swap must not be skipped because the
	// caller is shutting down.
	if err := a.store.Put(context.WithoutCancel(ctx), snapshot); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	a.markReady()

	a.publish(snapshot)
	a.mirrorSnapshot(ctx, snapshot)

	outcome := metrics.OutcomeOK
	if failures > 0 {
		outcome = metrics.OutcomeDegraded
	}
	totalDuration := time.Since(start)
	if a.metrics != nil {
		a.metrics.RecordTick(outcome, totalDuration.Seconds())
	}

	a.logger.Info("evaluation tick complete",
		"entities", len(p.entities),
		"anomalies", anomalies,
		"failed_queries", failures,
		"collect_ms", collectDuration.Milliseconds(),
		"total_ms", totalDuration.Milliseconds(),
	)

	return nil
}

// sample queries the source for one entity. Any failure yields a zero
// sample and ok == false; it is never propagated.
func (a *Aggregator) sample(ctx context.Context, p *plan, entity string) (value float64, ok bool) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.recordFailure(entity, reasonPanic, fmt.Errorf("adapter panicked: %v", r))
			value, ok = 0, false
		}
	}()

	query, err := p.query.Render(entity, p.window)
	if err != nil {
		a.recordFailure(entity, reasonBadQuery, err)
		return 0, false
	}

	// In-flight queries are not aborted by cancellation, only by their own
	// timeout.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.queryTimeout)
	defer cancel()

	v, err := a.adapter.Sample(qctx, query)
	if a.metrics != nil {
		a.metrics.RecordQuery(entity, time.Since(start).Seconds())
	}
	if err != nil {
		a.recordFailure(entity, classify(qctx, err), err)
		return 0, false
	}
	// Adapters outside this module may skip their own checks.
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		a.recordFailure(entity, reasonInvalidSample, fmt.Errorf("%w: %v", adapters.ErrInvalidSample, v))
		return 0, false
	}

	a.logger.Debug("sampled entity", "entity", entity, "value", v, "duration_ms", time.Since(start).Milliseconds())
	return v, true
}

func (a *Aggregator) recordFailure(entity, reason string, err error) {
	if a.metrics != nil {
		a.metrics.RecordQueryError(entity, reason)
	}
	a.logger.Warn("query failed, using zero sample",
		"entity", entity,
		"adapter", a.adapter.Name(),
		"reason", reason,
		"error", err,
	)
}

func classify(qctx context.Context, err error) string {
	switch {
	case errors.Is(err, adapters.ErrNoData):
		return reasonNoData
	case errors.Is(err, adapters.ErrInvalidSample):
		return reasonInvalidSample
	case errors.Is(err, context.DeadlineExceeded), errors.Is(qctx.Err(), context.DeadlineExceeded):
		return reasonTimeout
	default:
		return reasonRequestFailed
	}
}

func (a *Aggregator) markReady() {
	a.readyOnce.Do(func() {
		a.ready.Store(true)
		close(a.readyCh)
	})
}

func (a *Aggregator) publish(s storage.Snapshot) {
	if a.metrics != nil {
		a.metrics.Publish(s)
	}
	if a.pusher != nil {
		a.pusher.Notify()
	}
}

func (a *Aggregator) mirrorSnapshot(ctx context.Context, s storage.Snapshot) {
	if a.mirror == nil {
		return
	}
	timeout := a.mirrorTimeout
	if timeout <= 0 {
		timeout = a.queryTimeout
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := a.mirror.Put(mctx, s); err != nil {
		a.logger.Warn("snapshot mirror write failed", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalguard/signalguard/cmd/detector/config"
	"github.com/signalguard/signalguard/cmd/detector/metrics"
	"github.com/signalguard/signalguard/pkg/adapters"
	"github.com/signalguard/signalguard/pkg/scoring"
	"github.com/signalguard/signalguard/pkg/storage"
)

// fakeAdapter answers queries rendered from the "{{.Entity}}" template, so
// the query string is the entity name.
type fakeAdapter struct {
	mu      sync.Mutex
	values  map[string]float64
	errs    map[string]error
	block   map[string]bool
	panics  map[string]bool
	delay   time.Duration
	started chan string
	queries []string
	ctxErrs []error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		values: make(map[string]float64),
		errs:   make(map[string]error),
		block:  make(map[string]bool),
		panics: make(map[string]bool),
	}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Sample(ctx context.Context, query string) (float64, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	v, err, block, boom, delay, started := f.values[query], f.errs[query], f.block[query], f.panics[query], f.delay, f.started
	f.mu.Unlock()

	if started != nil {
		started <- query
	}
	if boom {
		panic("adapter exploded")
	}
	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if delay > 0 {
		time.Sleep(delay)
		f.mu.Lock()
		f.ctxErrs = append(f.ctxErrs, ctx.Err())
		f.mu.Unlock()
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (f *fakeAdapter) set(entity string, v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[entity] = v
	delete(f.errs, entity)
	delete(f.block, entity)
}

func (f *fakeAdapter) fail(entity string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[entity] = err
}

func testSettings(entities ...string) config.Settings {
	return config.Settings{
		Entities:      entities,
		Threshold:     0.2,
		QueryTemplate: "{{.Entity}}",
		Window:        5 * time.Minute,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAggregator(t *testing.T, ad adapters.Adapter, s config.Settings, timeout time.Duration) (*Aggregator, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	agg, err := New(ad, s, timeout, discardLogger(), m)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return agg, m
}

func TestNew_InitialSnapshot(t *testing.T) {
	agg, _ := newTestAggregator(t, newFakeAdapter(), testSettings("orders", "payments"), time.Second)

	snap := agg.GetSnapshot()
	if len(snap.Services) != 2 {
		t.Fatalf("initial services = %d, want 2", len(snap.Services))
	}
	for _, e := range []string{"orders", "payments"} {
		if snap.Services[e] != (storage.EntityState{}) {
			t.Errorf("initial %s = %+v, want zero state", e, snap.Services[e])
		}
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("initial updatedAt is zero")
	}
	if agg.Ready() {
		t.Error("Ready() before the first tick")
	}
}

func TestNew_Errors(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	if _, err := New(nil, testSettings("orders"), time.Second, nil, m); err == nil {
		t.Error("expected error for nil adapter")
	}
	if _, err := New(newFakeAdapter(), testSettings("orders"), 0, nil, m); err == nil {
		t.Error("expected error for zero timeout")
	}
	if _, err := New(newFakeAdapter(), testSettings(), time.Second, nil, m); err == nil {
		t.Error("expected error for empty entity set")
	}
}

func TestTick_ExampleScenario(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.5)
	ad.set("payments", 0.1)
	agg, m := newTestAggregator(t, ad, testSettings("orders", "payments"), time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	snap := agg.GetSnapshot()
	if got, want := snap.Services["orders"], (storage.EntityState{Flag: 1, Score: 2.5, ErrorRate: 0.5}); got != want {
		t.Errorf("orders = %+v, want %+v", got, want)
	}
	if got, want := snap.Services["payments"], (storage.EntityState{Flag: 0, Score: 0.5, ErrorRate: 0.1}); got != want {
		t.Errorf("payments = %+v, want %+v", got, want)
	}
	if !agg.Ready() {
		t.Error("Ready() = false after a completed tick")
	}
	select {
	case <-agg.ReadyC():
	default:
		t.Error("ReadyC not closed after a completed tick")
	}

	if got := testutil.ToFloat64(m.AnomalyFlag.WithLabelValues("orders")); got != 1 {
		t.Errorf("flag gauge orders = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AnomalyScore.WithLabelValues("payments")); got != 0.5 {
		t.Errorf("score gauge payments = %v, want 0.5", got)
	}
	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues(metrics.OutcomeOK)); got != 1 {
		t.Errorf("ok ticks = %v, want 1", got)
	}
}

func TestTick_RendersDefaultQuery(t *testing.T) {
	ad := newFakeAdapter()
	s := testSettings("orders")
	s.QueryTemplate = scoring.DefaultQueryTemplate
	agg, _ := newTestAggregator(t, ad, s, time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	want := `rate(app_request_errors_total{endpoint="orders"}[5m])`
	if len(ad.queries) != 1 || ad.queries[0] != want {
		t.Errorf("queries = %v, want [%s]", ad.queries, want)
	}
}

func TestTick_OneEntityFails(t *testing.T) {
	ad := newFakeAdapter()
	ad.fail("orders", errors.New("connection refused"))
	ad.set("payments", 0.4)
	agg, m := newTestAggregator(t, ad, testSettings("orders", "payments"), time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick must not fail on a per-entity error: %v", err)
	}

	snap := agg.GetSnapshot()
	if got := snap.Services["orders"]; got != (storage.EntityState{}) {
		t.Errorf("orders = %+v, want zero state", got)
	}
	if got, want := snap.Services["payments"], (storage.EntityState{Flag: 1, Score: 2, ErrorRate: 0.4}); got != want {
		t.Errorf("payments = %+v, want %+v", got, want)
	}
	if got := testutil.ToFloat64(m.QueryErrors.WithLabelValues("orders", reasonRequestFailed)); got != 1 {
		t.Errorf("request_failed errors for orders = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues(metrics.OutcomeDegraded)); got != 1 {
		t.Errorf("degraded ticks = %v, want 1", got)
	}
}

func TestTick_TimeoutThenRecovery(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.1)
	ad.set("payments", 0.9)
	ad.block["payments"] = true
	agg, m := newTestAggregator(t, ad, testSettings("orders", "payments"), 50*time.Millisecond)

	start := time.Now()
	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("tick took %v, query timeout not applied", elapsed)
	}

	if got := agg.GetSnapshot().Services["payments"]; got != (storage.EntityState{}) {
		t.Errorf("payments after timeout = %+v, want zero state", got)
	}
	if got := testutil.ToFloat64(m.QueryErrors.WithLabelValues("payments", reasonTimeout)); got != 1 {
		t.Errorf("timeout errors = %v, want 1", got)
	}

	ad.set("payments", 0.9)
	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got, want := agg.GetSnapshot().Services["payments"], (storage.EntityState{Flag: 1, Score: 4.5, ErrorRate: 0.9}); got != want {
		t.Errorf("payments after recovery = %+v, want %+v", got, want)
	}
}

func TestTick_FailureReasons(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{name: "no data", err: adapters.ErrNoData, reason: reasonNoData},
		{name: "wrapped no data", err: errors.Join(errors.New("prometheus"), adapters.ErrNoData), reason: reasonNoData},
		{name: "invalid sample", err: adapters.ErrInvalidSample, reason: reasonInvalidSample},
		{name: "deadline", err: context.DeadlineExceeded, reason: reasonTimeout},
		{name: "other", err: errors.New("502 bad gateway"), reason: reasonRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad := newFakeAdapter()
			ad.fail("orders", tt.err)
			agg, m := newTestAggregator(t, ad, testSettings("orders"), time.Second)

			if err := agg.Tick(context.Background()); err != nil {
				t.Fatalf("Tick: %v", err)
			}
			if got := testutil.ToFloat64(m.QueryErrors.WithLabelValues("orders", tt.reason)); got != 1 {
				t.Errorf("errors{reason=%s} = %v, want 1", tt.reason, got)
			}
			if got := agg.GetSnapshot().Services["orders"]; got != (storage.EntityState{}) {
				t.Errorf("orders = %+v, want zero state", got)
			}
		})
	}
}

func TestTick_RejectsNonFiniteSamples(t *testing.T) {
	for name, v := range map[string]float64{
		"nan":      math.NaN(),
		"+inf":     math.Inf(1),
		"-inf":     math.Inf(-1),
		"negative": -0.5,
	} {
		t.Run(name, func(t *testing.T) {
			ad := newFakeAdapter()
			ad.set("orders", v)
			ad.set("payments", 0.1)
			agg, m := newTestAggregator(t, ad, testSettings("orders", "payments"), time.Second)

			if err := agg.Tick(context.Background()); err != nil {
				t.Fatalf("Tick: %v", err)
			}

			snap := agg.GetSnapshot()
			if got := snap.Services["orders"]; got != (storage.EntityState{}) {
				t.Errorf("orders = %+v, want zero state", got)
			}
			if got := snap.Services["payments"]; got.ErrorRate != 0.1 {
				t.Errorf("payments = %+v, want errorRate 0.1", got)
			}
			if got := testutil.ToFloat64(m.QueryErrors.WithLabelValues("orders", reasonInvalidSample)); got != 1 {
				t.Errorf("invalid_sample errors = %v, want 1", got)
			}
			if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues(metrics.OutcomeDegraded)); got != 1 {
				t.Errorf("degraded ticks = %v, want 1", got)
			}
		})
	}
}

func TestTick_AdapterPanicIsContained(t *testing.T) {
	ad := newFakeAdapter()
	ad.panics["orders"] = true
	ad.set("payments", 0.1)
	agg, m := newTestAggregator(t, ad, testSettings("orders", "payments"), time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	snap := agg.GetSnapshot()
	if got := snap.Services["orders"]; got != (storage.EntityState{}) {
		t.Errorf("orders = %+v, want zero state", got)
	}
	if got := snap.Services["payments"]; got.ErrorRate != 0.1 {
		t.Errorf("payments = %+v, want errorRate 0.1", got)
	}
	if got := testutil.ToFloat64(m.QueryErrors.WithLabelValues("orders", reasonPanic)); got != 1 {
		t.Errorf("panic errors = %v, want 1", got)
	}
}

func TestTick_ZeroInputConverges(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.7)
	ad.set("payments", 0.4)
	agg, _ := newTestAggregator(t, ad, testSettings("orders", "payments"), time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	ad.set("orders", 0)
	ad.set("payments", 0)
	for i := 0; i < 5; i++ {
		if err := agg.Tick(context.Background()); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		for e, st := range agg.GetSnapshot().Services {
			if st != (storage.EntityState{}) {
				t.Fatalf("tick %d: %s = %+v, want zero state", i, e, st)
			}
		}
	}
}

func TestTick_ZeroThreshold(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.1)
	ad.set("payments", 0)
	s := testSettings("orders", "payments")
	s.Threshold = 0
	agg, _ := newTestAggregator(t, ad, s, time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	snap := agg.GetSnapshot()
	if got, want := snap.Services["orders"], (storage.EntityState{Flag: 1, Score: 0, ErrorRate: 0.1}); got != want {
		t.Errorf("orders = %+v, want %+v", got, want)
	}
	if got := snap.Services["payments"]; got != (storage.EntityState{}) {
		t.Errorf("payments = %+v, want zero state", got)
	}
}

func TestTick_QueriesRunConcurrently(t *testing.T) {
	ad := newFakeAdapter()
	ad.delay = 200 * time.Millisecond
	entities := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}
	agg, _ := newTestAggregator(t, ad, testSettings(entities...), time.Second)

	start := time.Now()
	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 1200*time.Millisecond {
		t.Errorf("tick took %v; queries appear to run sequentially", elapsed)
	}
}

func TestGetSnapshot_ReturnsCopy(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.5)
	agg, _ := newTestAggregator(t, ad, testSettings("orders"), time.Second)
	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	snap := agg.GetSnapshot()
	snap.Services["orders"] = storage.EntityState{Flag: 0}
	delete(snap.Services, "orders")

	if got := agg.GetSnapshot().Services["orders"]; got.Flag != 1 {
		t.Errorf("caller mutation leaked into served snapshot: %+v", got)
	}
}

// genAdapter returns the same generation value for every entity, so any
// snapshot mixing two ticks has unequal error rates.
type genAdapter struct {
	gen atomic.Int64
}

func (g *genAdapter) Name() string { return "gen" }
func (g *genAdapter) Sample(ctx context.Context, query string) (float64, error) {
	return float64(g.gen.Load()), nil
}

func TestGetSnapshot_NeverMixesTicks(t *testing.T) {
	ad := &genAdapter{}
	entities := []string{"e0", "e1", "e2", "e3", "e4", "e5", "e6", "e7", "e8", "e9"}
	agg, _ := newTestAggregator(t, ad, testSettings(entities...), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var torn atomic.Int64
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := agg.GetSnapshot()
				if len(snap.Services) != len(entities) {
					torn.Add(1)
					continue
				}
				want := snap.Services["e0"].ErrorRate
				for _, st := range snap.Services {
					if st.ErrorRate != want {
						torn.Add(1)
						break
					}
				}
			}
		}()
	}

	for gen := int64(1); gen <= 200; gen++ {
		ad.gen.Store(gen)
		if err := agg.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}
	cancel()
	wg.Wait()

	if n := torn.Load(); n != 0 {
		t.Fatalf("observed %d snapshots mixing ticks", n)
	}
	if got := agg.GetSnapshot().Services["e9"].ErrorRate; got != 200 {
		t.Errorf("final error rate = %v, want 200", got)
	}
}

func TestRun_FirstTickIsImmediate(t *testing.T) {
	agg, _ := newTestAggregator(t, newFakeAdapter(), testSettings("orders"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = agg.Run(ctx, time.Hour) }()

	select {
	case <-agg.ReadyC():
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not run at start")
	}
}

func TestRun_KeepsTickingAndStopsOnCancel(t *testing.T) {
	ad := newFakeAdapter()
	ad.fail("orders", errors.New("down"))
	agg, m := newTestAggregator(t, ad, testSettings("orders"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx, 20*time.Millisecond) }()

	deadline := time.Now().Add(3 * time.Second)
	for testutil.ToFloat64(m.TicksTotal.WithLabelValues(metrics.OutcomeDegraded)) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.ToFloat64(m.TicksTotal.WithLabelValues(metrics.OutcomeDegraded)); got < 3 {
		t.Fatalf("ticks = %v, want the loop to keep going after failing ticks", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_CancelDoesNotAbortInFlightQuery(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.5)
	ad.delay = 150 * time.Millisecond
	ad.started = make(chan string, 1)
	agg, _ := newTestAggregator(t, ad, testSettings("orders"), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx, time.Hour) }()

	select {
	case <-ad.started:
	case <-time.After(2 * time.Second):
		t.Fatal("query never started")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	ad.mu.Lock()
	ctxErrs := append([]error(nil), ad.ctxErrs...)
	ad.mu.Unlock()
	if len(ctxErrs) != 1 || ctxErrs[0] != nil {
		t.Errorf("query context errors = %v, want the in-flight query left running", ctxErrs)
	}
	if got := agg.GetSnapshot().Services["orders"]; got.ErrorRate != 0.5 {
		t.Errorf("orders = %+v, want the in-flight tick to be applied", got)
	}
}

func TestRun_RejectsBadInterval(t *testing.T) {
	agg, _ := newTestAggregator(t, newFakeAdapter(), testSettings("orders"), time.Second)
	if err := agg.Run(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestReconfigure(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.5)
	ad.set("checkout", 0.05)
	agg, m := newTestAggregator(t, ad, testSettings("orders", "payments"), time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	next := testSettings("orders", "checkout")
	next.Threshold = 0.1
	if err := agg.Reconfigure(next); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	if _, ok := agg.GetSnapshot().Services["payments"]; !ok {
		t.Error("snapshot changed before the next tick")
	}

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	snap := agg.GetSnapshot()
	if len(snap.Services) != 2 {
		t.Fatalf("services = %v, want orders and checkout", snap.Services)
	}
	if got, want := snap.Services["orders"], (storage.EntityState{Flag: 1, Score: 5, ErrorRate: 0.5}); got != want {
		t.Errorf("orders = %+v, want %+v", got, want)
	}
	if got, want := snap.Services["checkout"], (storage.EntityState{Flag: 0, Score: 0.5, ErrorRate: 0.05}); got != want {
		t.Errorf("checkout = %+v, want %+v", got, want)
	}
	if n := testutil.CollectAndCount(m.AnomalyFlag); n != 2 {
		t.Errorf("flag series = %d, want 2 after payments was dropped", n)
	}

	bad := testSettings("orders")
	bad.Threshold = -1
	if err := agg.Reconfigure(bad); err == nil {
		t.Error("expected error for negative threshold")
	}
	if got := agg.Entities(); len(got) != 2 {
		t.Errorf("rejected reconfigure changed entities to %v", got)
	}
}

type recordingStore struct {
	mu   sync.Mutex
	puts []storage.Snapshot
	err  error
}

func (r *recordingStore) Put(ctx context.Context, s storage.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.puts = append(r.puts, s.Clone())
	return nil
}

func (r *recordingStore) GetLatest(ctx context.Context) (storage.Snapshot, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.puts) == 0 {
		return storage.Snapshot{}, false, nil
	}
	return r.puts[len(r.puts)-1], true, nil
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Notify() { c.n.Add(1) }

func TestTick_MirrorsAndNotifies(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.5)
	agg, _ := newTestAggregator(t, ad, testSettings("orders"), time.Second)

	mirror := &recordingStore{}
	pusher := &countingNotifier{}
	agg.SetMirror(mirror, time.Second)
	agg.SetPusher(pusher)

	for i := 0; i < 2; i++ {
		if err := agg.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	latest, found, err := mirror.GetLatest(context.Background())
	if err != nil || !found {
		t.Fatalf("mirror GetLatest = (%v, %v)", found, err)
	}
	if latest.Services["orders"].Flag != 1 {
		t.Errorf("mirrored orders = %+v", latest.Services["orders"])
	}
	if len(mirror.puts) != 2 {
		t.Errorf("mirror puts = %d, want 2", len(mirror.puts))
	}
	if got := pusher.n.Load(); got != 2 {
		t.Errorf("pusher notified %d times, want 2", got)
	}
}

func TestTick_MirrorFailureDoesNotAffectSnapshot(t *testing.T) {
	ad := newFakeAdapter()
	ad.set("orders", 0.5)
	agg, _ := newTestAggregator(t, ad, testSettings("orders"), time.Second)
	agg.SetMirror(&recordingStore{err: errors.New("redis down")}, time.Second)

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := agg.GetSnapshot().Services["orders"]; got.Flag != 1 {
		t.Errorf("orders = %+v, want flag 1 despite mirror failure", got)
	}
}

func TestTick_UpdatedAtIsTickTime(t *testing.T) {
	agg, _ := newTestAggregator(t, newFakeAdapter(), testSettings("orders"), time.Second)
	fixed := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	if err := agg.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if got := agg.GetSnapshot().UpdatedAt; !got.Equal(fixed) {
		t.Errorf("updatedAt = %v, want %v", got, fixed)
	}
}

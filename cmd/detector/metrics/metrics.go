// Package metrics is the detector's Prometheus instrumentation: the anomaly
// gauges republished every tick (the metrics sink) and operational metrics
// about the tick loop itself.
//
// Metrics exposed:
//   - signalguard_anomaly_flag{service}: 1 when the error rate exceeds the threshold
//   - signalguard_anomaly_score{service}: error rate divided by the threshold
//   - signalguard_error_rate{service}: raw sample used for the last tick
//   - signalguard_tick_duration_seconds: histogram of full tick duration
//   - signalguard_ticks_total{outcome}: ticks by outcome (ok, degraded, panic)
//   - signalguard_query_errors_total{service,reason}: failed source queries
//   - signalguard_query_duration_seconds{service}: histogram of source query latency
//   - signalguard_snapshot_age_seconds: age of the served snapshot at scrape time
//   - signalguard_push_errors_total: failed Pushgateway pushes
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/signalguard/signalguard/pkg/storage"
)

const namespace = "signalguard"

// Tick outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomePanic    = "panic"
)

// Metrics holds all Prometheus metrics for the detector.
type Metrics struct {
	AnomalyFlag   *prometheus.GaugeVec
	AnomalyScore  *prometheus.GaugeVec
	ErrorRate     *prometheus.GaugeVec
	TickDuration  prometheus.Histogram
	TicksTotal    *prometheus.CounterVec
	QueryErrors   *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	PushErrors    prometheus.Counter

	reg prometheus.Registerer

	mu        sync.Mutex
	published map[string]struct{}
}

// New creates the metrics and registers them with reg.
// Use a fresh prometheus.NewRegistry() per instance in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AnomalyFlag: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_flag",
			Help:      "1 if the service error rate exceeds the threshold, else 0",
		}, []string{"service"}),

		AnomalyScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomaly_score",
			Help:      "Service error rate divided by the threshold",
		}, []string{"service"}),

		ErrorRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "error_rate",
			Help:      "Error rate sample used in the last evaluation",
		}, []string{"service"}),

		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent on one evaluation pass over all services",
			Buckets:   prometheus.DefBuckets,
		}),

		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluation passes by outcome",
		}, []string{"outcome"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_errors_total",
			Help:      "Failed source queries by service and reason",
		}, []string{"service", "reason"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Source query latency by service",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"service"}),

		PushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_errors_total",
			Help:      "Failed pushes to the Pushgateway",
		}),

		reg:       reg,
		published: make(map[string]struct{}),
	}
}

// Publish sets the per-service gauges from s. Services that were published
// before but are missing from s are removed, so a reconfigured entity set
// does not leave stale series behind.
func (m *Metrics) Publish(s storage.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for service, st := range s.Services {
		m.AnomalyFlag.WithLabelValues(service).Set(float64(st.Flag))
		m.AnomalyScore.WithLabelValues(service).Set(st.Score)
		m.ErrorRate.WithLabelValues(service).Set(st.ErrorRate)
	}

	for service := range m.published {
		if _, ok := s.Services[service]; ok {
			continue
		}
		m.AnomalyFlag.DeleteLabelValues(service)
		m.AnomalyScore.DeleteLabelValues(service)
		m.ErrorRate.DeleteLabelValues(service)
		m.QueryDuration.DeleteLabelValues(service)
		m.QueryErrors.DeletePartialMatch(prometheus.Labels{"service": service})
		delete(m.published, service)
	}

	for service := range s.Services {
		m.published[service] = struct{}{}
	}
}

// TrackSnapshotAge registers signalguard_snapshot_age_seconds, computed
// from updatedAt at scrape time.
func (m *Metrics) TrackSnapshotAge(updatedAt func() time.Time) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_age_seconds",
		Help:      "Seconds since the served snapshot was computed",
	}, func() float64 {
		t := updatedAt()
		if t.IsZero() {
			return 0
		}
		return time.Since(t).Seconds()
	})
}

// RecordTick records one tick's outcome and duration.
func (m *Metrics) RecordTick(outcome string, seconds float64) {
	m.TicksTotal.WithLabelValues(outcome).Inc()
	m.TickDuration.Observe(seconds)
}

// RecordQuery records the latency of one source query.
func (m *Metrics) RecordQuery(service string, seconds float64) {
	m.QueryDuration.WithLabelValues(service).Observe(seconds)
}

// RecordQueryError increments the query error counter.
func (m *Metrics) RecordQueryError(service, reason string) {
	m.QueryErrors.WithLabelValues(service, reason).Inc()
}

// RecordPushError increments the push error counter.
func (m *Metrics) RecordPushError() {
	m.PushErrors.Inc()
}

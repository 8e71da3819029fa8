package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// appMetrics are the series the detector's default query reads.
type appMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	orders   prometheus.Counter
	payments prometheus.Counter
}

func newAppMetrics(reg prometheus.Registerer) *appMetrics {
	factory := promauto.With(reg)
	return &appMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "app_requests_total",
			Help: "Total HTTP requests",
		}, []string{"endpoint", "status"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "app_request_errors_total",
			Help: "Total error responses",
		}, []string{"endpoint"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "app_request_latency_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		orders: factory.NewCounter(prometheus.CounterOpts{
			Name: "app_orders_total",
			Help: "Total simulated orders",
		}),
		payments: factory.NewCounter(prometheus.CounterOpts{
			Name: "app_payments_total",
			Help: "Total simulated successful payments",
		}),
	}
}

package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher republishes the anomaly gauges to a Pushgateway.
//
// Notify never blocks: it marks the gauges dirty and the Run goroutine pushes
// the latest values. Notifications arriving while a push is in flight
// collapse into one follow-up push. Failures are logged and counted.
type Pusher struct {
	pusher  *push.Pusher
	metrics *Metrics
	logger  *slog.Logger
	timeout time.Duration
	notify  chan struct{}
}

// NewPusher creates a pusher for the Pushgateway at url. The grouping key is
// job plus the host name as instance. client may be nil.
func NewPusher(url, job string, m *Metrics, client *http.Client, timeout time.Duration, logger *slog.Logger) *Pusher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	p := push.New(url, job).
		Collector(m.AnomalyFlag).
		Collector(m.AnomalyScore).
		Collector(m.ErrorRate)
	if host, err := os.Hostname(); err == nil && host != "" {
		p = p.Grouping("instance", host)
	}
	if client != nil {
		p = p.Client(client)
	}

	return &Pusher{
		pusher:  p,
		metrics: m,
		logger:  logger,
		timeout: timeout,
		notify:  make(chan struct{}, 1),
	}
}

// Notify schedules a push of the current gauge values.
func (p *Pusher) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run pushes on every notification until ctx is cancelled.
func (p *Pusher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
			p.pushOnce(ctx)
		}
	}
}

func (p *Pusher) pushOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Push (PUT) replaces the whole group, so services dropped from the
	// gauges disappear from the gateway as well.
	if err := p.pusher.PushContext(ctx); err != nil {
		p.metrics.RecordPushError()
		p.logger.Warn("pushgateway push failed", "error", err)
		return
	}
	p.logger.Debug("pushed anomaly gauges")
}

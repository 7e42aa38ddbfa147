// Package metrics provides a Prometheus-backed archiver.ProgressTracker,
// repurposing freyjadb's pkg/api HTTP-request metrics shape (counters plus
// an in-flight gauge) for bulk-inflate pull accounting instead.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/redwerk/libindex/pkg/archiver"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Tracker is a Prometheus-backed archiver.ProgressTracker: it exposes
// pull counters and an in-flight gauge so an external observer (a scrape
// target, a dashboard) can watch a BulkInflate run progress the way
// freyjadb's api.Metrics watches HTTP request volume. archiver.
// ProgressTracker carries no per-task identifier, so durations aren't
// tracked here — only counts.
type Tracker struct {
	pullsStartedTotal  prometheus.Counter
	pullsFinishedTotal *prometheus.CounterVec
	pullsInFlight      prometheus.Gauge
}

// New creates a Tracker and registers its metrics against reg, the same
// promauto pattern freyjadb's api.NewMetrics uses against the default
// registry. Pass a fresh prometheus.NewRegistry() in tests that construct
// more than one Tracker in the same process, or nil to create the
// metrics unregistered.
func New(reg prometheus.Registerer) *Tracker {
	factory := promauto.With(reg)
	return &Tracker{
		pullsStartedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "libindex_bulkinflate_pulls_started_total",
			Help: "Total number of ghost-node pulls submitted by a bulk inflate driver.",
		}),
		pullsFinishedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "libindex_bulkinflate_pulls_finished_total",
			Help: "Total number of ghost-node pulls that completed, labeled by outcome.",
		}, []string{"status"}),
		pullsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "libindex_bulkinflate_pulls_in_flight",
			Help: "Number of ghost-node pulls currently submitted to the scheduler but not yet completed.",
		}),
	}
}

// PullStarted implements archiver.ProgressTracker.
func (t *Tracker) PullStarted() {
	t.pullsStartedTotal.Inc()
}

// PullFinished implements archiver.ProgressTracker.
func (t *Tracker) PullFinished(ok bool) {
	status := statusSuccess
	if !ok {
		status = statusError
	}
	t.pullsFinishedTotal.WithLabelValues(status).Inc()
}

// InFlight implements archiver.ProgressTracker.
func (t *Tracker) InFlight(n int) {
	t.pullsInFlight.Add(float64(n))
}

var _ archiver.ProgressTracker = (*Tracker)(nil)

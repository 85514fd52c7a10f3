package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// maintenanceCollectors live on the module registry, not the default one.
type maintenanceCollectors struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	removed     *prometheus.CounterVec
}

func newCollectors(namespace string) *maintenanceCollectors {
	const subsystem = "maintenance"
	return &maintenanceCollectors{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Maintenance job executions by result",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Maintenance job duration",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_success_timestamp",
			Help:      "Unix time of the last successful run",
		}, []string{"job"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "removed_total",
			Help:      "Expired cache entries or audit rows removed",
		}, []string{"job"}),
	}
}

func (c *maintenanceCollectors) all() []prometheus.Collector {
	return []prometheus.Collector{c.runs, c.duration, c.lastSuccess, c.removed}
}

func (c *maintenanceCollectors) observeRun(run MaintenanceRun, at time.Time) {
	c.runs.WithLabelValues(run.Job, run.Result).Inc()
	c.duration.WithLabelValues(run.Job).Observe(max(run.Duration, 0).Seconds())
	if run.Removed > 0 {
		c.removed.WithLabelValues(run.Job).Add(float64(run.Removed))
	}
	if run.Result == "success" {
		c.lastSuccess.WithLabelValues(run.Job).Set(float64(at.Unix()))
	}
}

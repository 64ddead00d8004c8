// Package metrics records the outcome of provisioning runs, to be read by the Prometheus node exporter textfile collector.
package metrics

import (
	"time"

	"github.com/erimkaur/siteprovision/internal/provision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// statuses are always exported, so that a status absent from a run reads as 0.
var statuses = []provision.Status{
	provision.StatusChanged,
	provision.StatusUnchanged,
	provision.StatusPlanned,
	provision.StatusOK,
	provision.StatusFailed,
	provision.StatusRolledBack,
}

// Recorder holds the gauges describing the last run on a site.
type Recorder struct {
	timestamp prometheus.Gauge
	success   prometheus.Gauge
	duration  prometheus.Gauge
	steps     *prometheus.GaugeVec
}

// New registers the gauges of site in registry.
func New(registry prometheus.Registerer, site string) *Recorder {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"site": site}, registry)

	return &Recorder{
		timestamp: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "siteprovision_last_run_timestamp_seconds",
			Help: "Unix time the last provisioning run started.",
		}),
		success: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "siteprovision_last_run_success",
			Help: "Whether the last provisioning run succeeded.",
		}),
		duration: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "siteprovision_last_run_duration_seconds",
			Help: "Duration of the last provisioning run.",
		}),
		steps: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "siteprovision_last_run_steps",
			Help: "Number of steps of the last provisioning run, by status.",
		}, []string{"status"}),
	}
}

// Observe records a run which started at start and took took.
// runErr is the error returned by the run, if any.
func (r *Recorder) Observe(rep provision.Report, runErr error, start time.Time, took time.Duration) {
	r.timestamp.Set(float64(start.Unix()))
	r.duration.Set(took.Seconds())
	if runErr == nil {
		r.success.Set(1)
	} else {
		r.success.Set(0)
	}

	counts := make(map[provision.Status]int)
	for _, s := range rep.Steps {
		counts[s.Status]++
	}
	for _, s := range statuses {
		r.steps.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

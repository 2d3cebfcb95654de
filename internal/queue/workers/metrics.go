package workers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ternarybob/reportree/internal/models"
)

// Metrics holds the job processor's Prometheus collectors
type Metrics struct {
	JobsTotal     *prometheus.CounterVec
	JobDuration   prometheus.Histogram
	EmptyPolls    prometheus.Counter
	DroppedTotal  prometheus.Counter
	ActiveWorkers prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reportree_jobs_total",
			Help: "Jobs processed, by terminal status.",
		}, []string{"status"}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reportree_job_duration_seconds",
			Help:    "Wall time of a worker invocation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		EmptyPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "reportree_queue_empty_polls_total",
			Help: "Queue polls that returned no message.",
		}),
		DroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reportree_queue_dropped_total",
			Help: "Messages dropped after exceeding the max receive count.",
		}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reportree_active_jobs",
			Help: "Jobs currently executing.",
		}),
	}
}

func (m *Metrics) observeFinished(status models.ReportStatus, seconds float64) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(string(status)).Inc()
	m.JobDuration.Observe(seconds)
}

func (m *Metrics) emptyPoll() {
	if m == nil {
		return
	}
	m.EmptyPolls.Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.DroppedTotal.Inc()
}

func (m *Metrics) jobStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) jobDone() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

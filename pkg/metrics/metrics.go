// Package metrics exposes detonation lifecycle counters over a
// dedicated Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements the runner's metrics sink on Prometheus
// primitives.
type Collector struct {
	registry *prometheus.Registry

	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	activeJobs   prometheus.Gauge

	submissions prometheus.Counter
	retries     *prometheus.CounterVec
	polls       *prometheus.CounterVec
}

// NewCollector builds a collector with its own registry under the given
// namespace.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Detonation jobs entered into the lifecycle.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Detonation jobs finished, by outcome.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of one detonation job.",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 10),
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently inside the lifecycle.",
		}),
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "File upload attempts against the backend.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry attempts consumed, by lifecycle phase.",
		}, []string{"phase"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status polls issued, by lifecycle phase.",
		}, []string{"phase"}),
	}

	c.registry.MustRegister(
		c.jobsStarted, c.jobsFinished, c.jobDuration, c.activeJobs,
		c.submissions, c.retries, c.polls,
	)
	return c
}

// Registry returns the collector's registry for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) JobStarted() {
	c.jobsStarted.Inc()
	c.activeJobs.Inc()
}

func (c *Collector) JobFinished(outcome string, elapsed time.Duration) {
	c.activeJobs.Dec()
	c.jobsFinished.WithLabelValues(outcome).Inc()
	c.jobDuration.Observe(elapsed.Seconds())
}

func (c *Collector) Submission() {
	c.submissions.Inc()
}

func (c *Collector) Retry(phase string) {
	c.retries.WithLabelValues(phase).Inc()
}

func (c *Collector) Poll(phase string) {
	c.polls.WithLabelValues(phase).Inc()
}

// Package metrics exposes transfer metrics through Prometheus.
//
// A nil *Collector is valid and records nothing, so components can be built
// without metrics at zero cost:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)   // or nil
//	m.PartAttempt("upload", "success", time.Second)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records transfer metrics.
type Collector struct {
	jobsTotal        *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	activeJobs       prometheus.Gauge
	partAttempts     *prometheus.CounterVec
	partDuration     *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	abortsTotal      *prometheus.CounterVec
}

// New registers the transfer metrics with reg.
func New(reg prometheus.Registerer) *Collector {
	return &Collector{
		jobsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_jobs_total",
				Help: "Total number of finished transfer jobs by kind and terminal state",
			},
			[]string{"kind", "state"},
		),
		jobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transfer_job_duration_seconds",
				Help:    "Wall time from submission to terminal state",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"kind"},
		),
		activeJobs: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "transfer_active_jobs",
				Help: "Number of jobs that have left the queue and not yet finished",
			},
		),
		partAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_part_attempts_total",
				Help: "Total number of part attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		partDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "transfer_part_attempt_duration_milliseconds",
				Help: "Duration of single part attempts in milliseconds",
				Buckets: []float64{
					10,    // 10ms - empty or tiny parts
					100,   // 100ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - typical 8MB part on a slow link
					15000, // 15s
					60000, // 1m
				},
			},
			[]string{"kind"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_part_retries_total",
				Help: "Total number of part retries by failure class",
			},
			[]string{"class"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_bytes_total",
				Help: "Total bytes confirmed by successful part attempts",
			},
			[]string{"kind"},
		),
		abortsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_aborts_total",
				Help: "Total number of abort calls by status",
			},
			[]string{"status"},
		),
	}
}

// JobStarted records a job leaving the queue.
func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.activeJobs.Inc()
}

// JobFinished records a terminal job. started reports whether JobStarted was
// recorded for it.
func (c *Collector) JobFinished(kind, state string, started bool, d time.Duration) {
	if c == nil {
		return
	}
	if started {
		c.activeJobs.Dec()
	}
	c.jobsTotal.WithLabelValues(kind, state).Inc()
	c.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// PartAttempt records one attempt outcome.
func (c *Collector) PartAttempt(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.partAttempts.WithLabelValues(kind, outcome).Inc()
	c.partDuration.WithLabelValues(kind).Observe(float64(d.Milliseconds()))
}

// Retry records a retry caused by a failure of the given class.
func (c *Collector) Retry(class string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(class).Inc()
}

// Bytes records confirmed bytes.
func (c *Collector) Bytes(kind string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesTransferred.WithLabelValues(kind).Add(float64(n))
}

// Abort records an abort call.
func (c *Collector) Abort(err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.abortsTotal.WithLabelValues(status).Inc()
}

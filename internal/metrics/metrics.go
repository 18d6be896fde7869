// Package metrics exposes simcron's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcome labels.
const (
	JobSuccess     = "success"
	JobFailed      = "failed"
	JobInterrupted = "interrupted"
)

type Metrics struct {
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobsRunning     prometheus.Gauge
	jobsSkipped     *prometheus.CounterVec
	recoveryOutcome *prometheus.CounterVec
	escalations     prometheus.Counter
	noWorker        prometheus.Counter
	scanDuration    prometheus.Histogram
	alerts          *prometheus.CounterVec
}

// New creates and registers all instruments on reg. A nil reg means the
// default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Finished job executions by outcome",
			},
			[]string{"job", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time of job executions",
				Buckets:   []float64{.5, 1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"job"},
		),
		jobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_running",
				Help:      "Frequent jobs with a live execution",
			},
		),
		jobsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_skipped_total",
				Help:      "Due frequent jobs skipped because the previous run was still alive",
			},
			[]string{"job"},
		),
		recoveryOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_outcomes_total",
				Help:      "Failed transfer tasks handled by recovery strategy",
			},
			[]string{"strategy"},
		),
		escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_escalations_total",
				Help:      "Transfer lineages that exhausted their retries",
			},
		),
		noWorker: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_no_worker_total",
				Help:      "Direct retries that found no available worker",
			},
		),
		scanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recovery_scan_duration_seconds",
				Help:      "Duration of recovery scans",
				Buckets:   prometheus.DefBuckets,
			},
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Operator alerts by delivery result",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobsRunning,
		m.jobsSkipped,
		m.recoveryOutcome,
		m.escalations,
		m.noWorker,
		m.scanDuration,
		m.alerts,
	)

	return m
}

// NewNop returns metrics registered on a private registry, for tests and
// one-shot commands.
func NewNop() *Metrics {
	return New("simcron", prometheus.NewRegistry())
}

func (m *Metrics) RecordJob(job, status string, duration time.Duration) {
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *Metrics) JobStarted() {
	m.jobsRunning.Inc()
}

func (m *Metrics) JobFinished() {
	m.jobsRunning.Dec()
}

func (m *Metrics) JobSkipped(job string) {
	m.jobsSkipped.WithLabelValues(job).Inc()
}

func (m *Metrics) RecoveryOutcome(strategy string) {
	m.recoveryOutcome.WithLabelValues(strategy).Inc()
}

func (m *Metrics) Escalated() {
	m.escalations.Inc()
}

func (m *Metrics) NoWorker() {
	m.noWorker.Inc()
}

func (m *Metrics) ObserveScan(d time.Duration) {
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) Alert(delivered bool) {
	if delivered {
		m.alerts.WithLabelValues("sent").Inc()
		return
	}
	m.alerts.WithLabelValues("failed").Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// EscalationsCounter exposes the escalation counter for inspection.
func (m *Metrics) EscalationsCounter() prometheus.Counter {
	return m.escalations
}

// NoWorkerCounter exposes the no-worker counter for inspection.
func (m *Metrics) NoWorkerCounter() prometheus.Counter {
	return m.noWorker
}

// JobRunsCounter exposes the run counter of one job and outcome.
func (m *Metrics) JobRunsCounter(job, status string) prometheus.Counter {
	return m.jobRuns.WithLabelValues(job, status)
}

// AlertsCounter exposes the alert counter for one delivery result.
func (m *Metrics) AlertsCounter(delivered bool) prometheus.Counter {
	if delivered {
		return m.alerts.WithLabelValues("sent")
	}
	return m.alerts.WithLabelValues("failed")
}

// JobsSkippedCounter exposes the skip counter of one job.
func (m *Metrics) JobsSkippedCounter(job string) prometheus.Counter {
	return m.jobsSkipped.WithLabelValues(job)
}

// JobsRunningGauge exposes the running-jobs gauge.
func (m *Metrics) JobsRunningGauge() prometheus.Gauge {
	return m.jobsRunning
}

// Package metrics exposes the pipeline's Prometheus collectors.
//
// Every Record method is safe to call on a nil *Collector, so services
// built without metrics (tests, one-shot CLI commands) need no guards.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission results.
const (
	AdmissionAdmitted     = "admitted"
	AdmissionInsufficient = "insufficient_credits"
	AdmissionRejected     = "rejected"
	AdmissionFailed       = "failed"
)

// Sweep outcomes.
const (
	SweepRepaired  = "repaired"
	SweepDuplicate = "duplicate"
	SweepError     = "error"
)

type Collector struct {
	admissions        *prometheus.CounterVec
	dispatchDeferred  prometheus.Counter
	jobsFinished      *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	attemptErrors     *prometheus.CounterVec
	sweeps            *prometheus.CounterVec
	refunds           *prometheus.CounterVec
	paymentEvents     *prometheus.CounterVec
	signatureFailures *prometheus.CounterVec
	ledgerMismatches  prometheus.Gauge
}

// NewCollector registers all collectors on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_admissions_total",
			Help: "Job admission attempts by result",
		}, []string{"result"}),
		dispatchDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "convert_dispatch_deferred_total",
			Help: "Admitted jobs whose queue insert failed and was left to the sweeper",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_jobs_finished_total",
			Help: "Jobs reaching a terminal status",
		}, []string{"job_type", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "convert_job_duration_seconds",
			Help:    "Wall time of a single conversion attempt",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"job_type"}),
		attemptErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_attempt_errors_total",
			Help: "Failed conversion attempts by cause",
		}, []string{"job_type", "cause"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_sweeper_jobs_total",
			Help: "Stuck queued jobs handled by the recovery sweeper",
		}, []string{"outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_refund_requests_total",
			Help: "Refund requests created or decided, by resulting status",
		}, []string{"status"}),
		paymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_payment_events_total",
			Help: "Payment provider events by outcome",
		}, []string{"provider", "result"}),
		signatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "convert_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected for a bad signature",
		}, []string{"provider"}),
		ledgerMismatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "convert_ledger_mismatched_accounts",
			Help: "Accounts whose balance differs from the sum of their ledger entries at the last reconcile",
		}),
	}
	reg.MustRegister(
		c.admissions, c.dispatchDeferred, c.jobsFinished, c.jobDuration, c.attemptErrors,
		c.sweeps, c.refunds, c.paymentEvents, c.signatureFailures, c.ledgerMismatches,
	)
	return c
}

func (c *Collector) RecordAdmission(result string) {
	if c == nil {
		return
	}
	c.admissions.WithLabelValues(result).Inc()
}

func (c *Collector) RecordDispatchDeferred() {
	if c == nil {
		return
	}
	c.dispatchDeferred.Inc()
}

func (c *Collector) RecordJobFinished(jobType, status string) {
	if c == nil {
		return
	}
	c.jobsFinished.WithLabelValues(jobType, status).Inc()
}

func (c *Collector) ObserveAttempt(jobType string, d time.Duration) {
	if c == nil {
		return
	}
	c.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

func (c *Collector) RecordAttemptError(jobType, cause string) {
	if c == nil {
		return
	}
	c.attemptErrors.WithLabelValues(jobType, cause).Inc()
}

func (c *Collector) RecordSweep(outcome string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.sweeps.WithLabelValues(outcome).Add(float64(n))
}

func (c *Collector) RecordRefund(status string) {
	if c == nil {
		return
	}
	c.refunds.WithLabelValues(status).Inc()
}

func (c *Collector) RecordPaymentEvent(provider, result string) {
	if c == nil {
		return
	}
	c.paymentEvents.WithLabelValues(provider, result).Inc()
}

func (c *Collector) RecordSignatureFailure(provider string) {
	if c == nil {
		return
	}
	c.signatureFailures.WithLabelValues(provider).Inc()
}

func (c *Collector) SetLedgerMismatches(n int) {
	if c == nil {
		return
	}
	c.ledgerMismatches.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

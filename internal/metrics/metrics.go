// Package metrics exposes Prometheus instrumentation for the queue, reaper
// and ledger. Everything is registered via promauto at init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warrant_jobs_enqueued_total",
			Help: "Jobs accepted onto the queue",
		},
		[]string{"job_type"},
	)

	JobsClaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warrant_jobs_claimed_total",
			Help: "Successful job claims",
		},
		[]string{"job_type"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warrant_jobs_completed_total",
			Help: "Terminal completions by result status",
		},
		[]string{"status"}, // SUCCEEDED or FAILED
	)

	JobsRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warrant_jobs_retried_total",
			Help: "Jobs pushed back for retry",
		},
	)

	JobsDeadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warrant_jobs_dead_total",
			Help: "Jobs dead-lettered after exhausting retries",
		},
	)

	JobsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warrant_jobs_reaped_total",
			Help: "Expired leases resolved by the reaper",
		},
	)

	JobsProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warrant_jobs_processing",
			Help: "Jobs currently holding a lease",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warrant_queue_depth",
			Help: "Claimable jobs (eligible and waiting)",
		},
	)

	LedgerAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warrant_ledger_appends_total",
			Help: "Audit records appended, by chain",
		},
		[]string{"chain_id"},
	)

	RateLimitRejectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warrant_rate_limit_rejects_total",
			Help: "Enqueue attempts rejected by the per-actor window",
		},
	)

	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warrant_job_duration_seconds",
			Help:    "Handler execution duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"job_type", "status"},
	)
)

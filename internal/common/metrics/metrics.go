// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substitution_sweeps_total",
			Help: "Total number of expired-timer sweeps by result",
		},
		[]string{"result"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "substitution_sweep_duration_seconds",
			Help:    "Duration of one expired-timer sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CascadesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substitution_cascades_total",
			Help: "Per-posting cascade outcomes",
		},
		[]string{"outcome"},
	)

	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substitution_confirmations_total",
			Help: "Confirmation responses by outcome",
		},
		[]string{"outcome"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substitution_notifications_total",
			Help: "Notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substitution_events_published_total",
			Help: "Handoff events published by sink and status",
		},
		[]string{"sink", "status"},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)

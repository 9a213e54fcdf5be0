package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal counts sync runs by source and outcome (success, failed, rejected)
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizsync_sync_runs_total",
			Help: "Total number of sync runs",
		},
		[]string{"source", "status"},
	)

	// SyncDuration tracks wall-clock duration of completed and failed runs
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bizsync_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"source"},
	)

	// RecordsTotal counts records handled by a run, by kind (new, updated, duplicate, invalid, skipped)
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizsync_records_total",
			Help: "Total number of records handled by sync runs",
		},
		[]string{"source", "kind"},
	)

	// PagesFetched counts upstream pages processed per source
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizsync_pages_fetched_total",
			Help: "Total number of upstream pages fetched",
		},
		[]string{"source"},
	)

	// ErrorsTotal counts non-fatal errors by pipeline stage (page, item, batch)
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizsync_errors_total",
			Help: "Total number of recorded sync errors",
		},
		[]string{"source", "stage"},
	)

	// UpstreamRequests counts HTTP requests to the open data portal by status code
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizsync_upstream_requests_total",
			Help: "Total number of upstream HTTP requests",
		},
		[]string{"code"},
	)

	// NotificationsTotal counts notifications by event and outcome (sent, failed, dropped)
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bizsync_notifications_total",
			Help: "Total number of notifications",
		},
		[]string{"event", "outcome"},
	)

	// SchedulerSkipped counts cron fires skipped because the previous job was still running
	SchedulerSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bizsync_scheduler_skipped_total",
			Help: "Total number of scheduled fires skipped due to an in-flight run",
		},
	)

	// LastSuccess records the unix time of the last successful run per source
	LastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bizsync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync",
		},
		[]string{"source"},
	)
)

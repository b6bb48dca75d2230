package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windmill_git_sync_failed_total",
			Help: "Total number of failed workspace sync operations",
		},
		[]string{"workspace", "error_type"},
	)

	SyncCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windmill_git_sync_count_total",
			Help: "Total number of workspace sync operations",
		},
		[]string{"workspace"},
	)

	SyncCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windmill_git_sync_commits_total",
			Help: "Total number of backup commits created",
		},
		[]string{"workspace"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "windmill_git_sync_duration_seconds",
			Help:    "Workspace sync duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"workspace"},
	)

	LastSyncStart = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windmill_git_last_sync_start_timestamp",
			Help: "Unix timestamp of when the last workspace sync started",
		},
		[]string{"workspace"},
	)

	LastSyncEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "windmill_git_last_sync_end_timestamp",
			Help: "Unix timestamp of when the last workspace sync ended",
		},
		[]string{"workspace"},
	)

	SyncRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "windmill_git_sync_rejected_total",
			Help: "Total number of sync requests rejected because another sync was running",
		},
	)
)

func SyncStarted(workspace string, start time.Time) {
	SyncCount.WithLabelValues(workspace).Inc()
	LastSyncStart.WithLabelValues(workspace).Set(float64(start.Unix()))
}

// SyncFinished records the outcome of a sync. An empty errorType is a success.
func SyncFinished(workspace string, start time.Time, committed bool, errorType string) {
	end := time.Now()
	SyncDuration.WithLabelValues(workspace).Observe(end.Sub(start).Seconds())
	LastSyncEnd.WithLabelValues(workspace).Set(float64(end.Unix()))
	if committed {
		SyncCommits.WithLabelValues(workspace).Inc()
	}
	if errorType != "" {
		SyncFailed.WithLabelValues(workspace, errorType).Inc()
	}
}

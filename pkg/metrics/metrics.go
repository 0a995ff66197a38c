// Package metrics defines the Prometheus collectors for the session core.
// They are registered by the metrics server at startup and incremented from
// the owning packages.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ActionsEnqueuedTotal counts offline actions accepted by the queue.
	ActionsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessioncore_actions_enqueued_total",
			Help: "Total number of offline actions enqueued",
		},
		[]string{"type"},
	)

	// ActionsProcessedTotal counts actions confirmed by the remote backend.
	ActionsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_actions_processed_total",
			Help: "Total number of offline actions delivered to the backend",
		},
	)

	// ActionsDroppedTotal counts actions dropped after exhausting retries.
	ActionsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_actions_dropped_total",
			Help: "Total number of offline actions dropped after max retries",
		},
	)

	// QueueDepth tracks the number of actions waiting for delivery.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessioncore_queue_depth",
			Help: "Number of offline actions currently pending",
		},
	)

	// SyncRunsTotal counts drain attempts by outcome.
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessioncore_sync_runs_total",
			Help: "Total number of sync drains by outcome",
		},
		[]string{"outcome"},
	)

	// EngineOnline is 1 while the sync engine considers the backend reachable.
	EngineOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessioncore_engine_online",
			Help: "Whether the sync engine is online (1) or offline (0)",
		},
	)

	// SnapshotSavesTotal counts work snapshots written to local storage.
	SnapshotSavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_snapshot_saves_total",
			Help: "Total number of work snapshots saved",
		},
	)

	// SnapshotEvictionsTotal counts snapshots removed by age-based eviction.
	SnapshotEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_snapshot_evictions_total",
			Help: "Total number of expired work snapshots evicted",
		},
	)

	// SnapshotCorruptionsTotal counts snapshots rejected by checksum.
	SnapshotCorruptionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_snapshot_corruptions_total",
			Help: "Total number of snapshots discarded due to checksum mismatch",
		},
	)

	// RecoveriesTotal counts fault recoveries by strategy and outcome.
	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessioncore_recoveries_total",
			Help: "Total number of fault recoveries by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// RecoveryDuration observes end-to-end recovery execution time.
	RecoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sessioncore_recovery_duration_seconds",
			Help:    "Time spent executing a recovery strategy",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AutosaveFailuresTotal counts autosave ticks that failed to persist.
	AutosaveFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_autosave_failures_total",
			Help: "Total number of autosave persistence failures",
		},
	)

	// SessionsStartedTotal counts sessions created by the lifecycle manager.
	SessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_sessions_started_total",
			Help: "Total number of training sessions started",
		},
	)

	// SessionsCompletedTotal counts sessions that reached completion.
	SessionsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_sessions_completed_total",
			Help: "Total number of training sessions completed",
		},
	)

	// SessionsCleanedTotal counts stale open sessions removed by cleanup.
	SessionsCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessioncore_sessions_cleaned_total",
			Help: "Total number of stale sessions removed by cleanup",
		},
	)
)

// Collectors returns every collector in this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ActionsEnqueuedTotal,
		ActionsProcessedTotal,
		ActionsDroppedTotal,
		QueueDepth,
		SyncRunsTotal,
		EngineOnline,
		SnapshotSavesTotal,
		SnapshotEvictionsTotal,
		SnapshotCorruptionsTotal,
		RecoveriesTotal,
		RecoveryDuration,
		AutosaveFailuresTotal,
		SessionsStartedTotal,
		SessionsCompletedTotal,
		SessionsCleanedTotal,
	}
}

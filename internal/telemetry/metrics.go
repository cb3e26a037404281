// Package telemetry holds the prometheus collectors shared across the
// service. Collectors are package-level and registered once at init; the
// HTTP surface exposes them on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Token lifecycle
	TokensByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tothemoon_tokens",
		Help: "Tracked tokens by lifecycle status",
	}, []string{"status"})

	MigrationEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_migration_events_total",
		Help: "Migration events by ingest outcome",
	}, []string{"outcome"})

	ListenerReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tothemoon_listener_reconnects_total",
		Help: "WebSocket listener reconnect attempts",
	})

	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_status_transitions_total",
		Help: "Token lifecycle transitions by target status and reason",
	}, []string{"to", "reason"})

	// Scheduler
	GroupRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_group_runs_total",
		Help: "Refresh group executions",
	}, []string{"group"})

	GroupDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tothemoon_group_duration_seconds",
		Help:    "Wall time of one refresh group execution",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"group"})

	TokensProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_tokens_processed_total",
		Help: "Per-token task outcomes by group",
	}, []string{"group", "outcome"})

	TokenProcessDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tothemoon_token_process_duration_seconds",
		Help:    "Per-token pipeline latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"group"})

	DeferredQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tothemoon_deferred_queue_depth",
		Help: "Token ids parked in the deferred queue",
	})

	DeferredDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tothemoon_deferred_dropped_total",
		Help: "Token ids rejected because the deferred queue was full",
	})

	JobRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_job_restarts_total",
		Help: "Supervised job restarts after panic or fatal error",
	}, []string{"job"})

	SnapshotWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tothemoon_snapshot_writes_total",
		Help: "Score snapshots persisted",
	})

	// DEX client
	DexRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_dex_requests_total",
		Help: "Upstream pair-data requests by client and outcome",
	}, []string{"client", "outcome"})

	DexRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tothemoon_dex_request_duration_seconds",
		Help:    "Upstream pair-data request latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
	}, []string{"client"})

	DexCacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_dex_cache_events_total",
		Help: "Pair cache hits and misses by client",
	}, []string{"client", "event"})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tothemoon_breaker_state",
		Help: "Circuit breaker state per client (0 closed, 1 half_open, 2 open)",
	}, []string{"client"})

	// Spam analyzer
	SpamAnalyses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_spam_analyses_total",
		Help: "Spam analyzer runs by outcome",
	}, []string{"outcome"})

	// Export writer
	ExportWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tothemoon_export_writes_total",
		Help: "NotArb export file writes by outcome",
	}, []string{"outcome"})

	ExportedTokens = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tothemoon_exported_tokens",
		Help: "Tokens included in the last NotArb export",
	})

	// System
	CPUUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tothemoon_cpu_usage_percent",
		Help: "Smoothed process-host CPU utilization",
	})

	MemoryUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tothemoon_memory_usage_percent",
		Help: "System memory utilization",
	})

	ProcessRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tothemoon_process_rss_bytes",
		Help: "Resident set size of this process",
	})

	GoroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tothemoon_goroutines_active",
		Help: "Number of live goroutines",
	})

	LoadClass = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tothemoon_load_class",
		Help: "Current load class (0 low, 1 medium, 2 high, 3 under_load)",
	})
)

func init() {
	prometheus.MustRegister(TokensByStatus)
	prometheus.MustRegister(MigrationEvents)
	prometheus.MustRegister(ListenerReconnects)
	prometheus.MustRegister(StatusTransitions)

	prometheus.MustRegister(GroupRuns)
	prometheus.MustRegister(GroupDuration)
	prometheus.MustRegister(TokensProcessed)
	prometheus.MustRegister(TokenProcessDuration)
	prometheus.MustRegister(DeferredQueueDepth)
	prometheus.MustRegister(DeferredDropped)
	prometheus.MustRegister(JobRestarts)
	prometheus.MustRegister(SnapshotWrites)

	prometheus.MustRegister(DexRequests)
	prometheus.MustRegister(DexRequestDuration)
	prometheus.MustRegister(DexCacheEvents)
	prometheus.MustRegister(BreakerState)

	prometheus.MustRegister(SpamAnalyses)

	prometheus.MustRegister(ExportWrites)
	prometheus.MustRegister(ExportedTokens)

	prometheus.MustRegister(CPUUsagePercent)
	prometheus.MustRegister(MemoryUsagePercent)
	prometheus.MustRegister(ProcessRSSBytes)
	prometheus.MustRegister(GoroutinesActive)
	prometheus.MustRegister(LoadClass)
}

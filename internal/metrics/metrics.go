// Package metrics defines Prometheus metrics and the HTTP endpoints that
// expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Execution metrics.
var (
	BatchesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_batches_submitted_total",
		Help: "Batch orders submitted, by symbol and phase.",
	}, []string{"symbol", "phase"})

	BatchesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_batches_failed_total",
		Help: "Batch orders that closed without holding, by symbol, phase and close reason.",
	}, []string{"symbol", "phase", "reason"})

	EntryFilledQuote = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "twapbot_entry_filled_quote",
		Help: "Cumulative entry fill in quote terms, by symbol.",
	}, []string{"symbol"})

	ExitFilledBase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "twapbot_exit_filled_base",
		Help: "Cumulative exit fill in base terms, by symbol.",
	}, []string{"symbol"})

	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_controller_state_transitions_total",
		Help: "Controller state transitions, by symbol and new state.",
	}, []string{"symbol", "state"})
)

// Fleet metrics.
var (
	WorkersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "twapbot_workers_active",
		Help: "Active workers by status.",
	}, []string{"status"})

	RebalancesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twapbot_rebalances_total",
		Help: "Ranking-driven rebalances executed.",
	})

	RebalanceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "twapbot_rebalance_duration_seconds",
		Help:    "End-to-end rebalance duration.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_positions_opened_total",
		Help: "Positions opened, by side.",
	}, []string{"side"})

	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_positions_closed_total",
		Help: "Positions closed, by side.",
	}, []string{"side"})

	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_action_failures_total",
		Help: "Open/close/lifecycle actions that failed after retries, by action.",
	}, []string{"action"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_retries_total",
		Help: "Retry attempts on lifecycle and API calls, by operation.",
	}, []string{"operation"})

	WorkersStoppedUnexpectedly = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twapbot_workers_stopped_unexpectedly_total",
		Help: "Workers observed stopped outside an intentional unwind.",
	})
)

// Feed and system metrics.
var (
	RankingSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twapbot_ranking_snapshots_total",
		Help: "Ranking snapshots consumed.",
	})

	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twapbot_feed_connected",
		Help: "Ranking feed connection status (1 = connected).",
	})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twapbot_heartbeat_timestamp_seconds",
		Help: "Unix timestamp of the last health check loop.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twapbot_errors_total",
		Help: "Errors by type.",
	}, []string{"type"})
)

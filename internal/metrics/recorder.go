package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordBatchSubmitted records a batch order submission.
func (r *Recorder) RecordBatchSubmitted(symbol, phase string) {
	BatchesSubmitted.WithLabelValues(symbol, phase).Inc()
}

// RecordBatchFailed records a batch that closed without holding.
func (r *Recorder) RecordBatchFailed(symbol, phase, reason string) {
	BatchesFailed.WithLabelValues(symbol, phase, reason).Inc()
}

// RecordEntryFill records cumulative entry fill progress.
func (r *Recorder) RecordEntryFill(symbol string, quote decimal.Decimal) {
	EntryFilledQuote.WithLabelValues(symbol).Set(quote.InexactFloat64())
}

// RecordExitFill records cumulative exit fill progress.
func (r *Recorder) RecordExitFill(symbol string, base decimal.Decimal) {
	ExitFilledBase.WithLabelValues(symbol).Set(base.InexactFloat64())
}

// RecordStateTransition records a controller state change.
func (r *Recorder) RecordStateTransition(symbol, state string) {
	StateTransitionsTotal.WithLabelValues(symbol, state).Inc()
}

// RecordWorkerCount records the number of active workers in a status.
func (r *Recorder) RecordWorkerCount(status string, count int) {
	WorkersActive.WithLabelValues(status).Set(float64(count))
}

// RecordRebalance records a completed rebalance.
func (r *Recorder) RecordRebalance(duration time.Duration) {
	RebalancesTotal.Inc()
	RebalanceDuration.Observe(duration.Seconds())
}

// RecordPositionOpened records a position being opened.
func (r *Recorder) RecordPositionOpened(side string) {
	PositionsOpened.WithLabelValues(side).Inc()
}

// RecordPositionClosed records a position being closed.
func (r *Recorder) RecordPositionClosed(side string) {
	PositionsClosed.WithLabelValues(side).Inc()
}

// RecordActionFailure records an action that failed after retries.
func (r *Recorder) RecordActionFailure(action string) {
	ActionFailures.WithLabelValues(action).Inc()
}

// RecordRetry records one retry attempt.
func (r *Recorder) RecordRetry(operation string) {
	RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordStoppedUnexpectedly records a worker death outside an unwind.
func (r *Recorder) RecordStoppedUnexpectedly() {
	WorkersStoppedUnexpectedly.Inc()
}

// RecordRankingSnapshot records one consumed ranking snapshot.
func (r *Recorder) RecordRankingSnapshot() {
	RankingSnapshotsTotal.Inc()
}

// RecordFeedStatus records ranking feed connection status.
func (r *Recorder) RecordFeedStatus(connected bool) {
	if connected {
		FeedConnected.Set(1)
	} else {
		FeedConnected.Set(0)
	}
}

// RecordHeartbeat records a health loop heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the elapsed duration.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveRebalance observes the elapsed time as rebalance duration.
func (t *Timer) ObserveRebalance() {
	RebalanceDuration.Observe(t.Elapsed().Seconds())
}

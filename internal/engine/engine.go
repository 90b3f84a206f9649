// Package engine coordinates the ranking feed, the fleet orchestrator and
// the periodic health loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lsquant/twapbot/internal/alerting"
	"github.com/lsquant/twapbot/internal/fleet"
	"github.com/lsquant/twapbot/internal/metrics"
	"github.com/lsquant/twapbot/internal/types"
	"golang.org/x/time/rate"
)

// RankingSource delivers ranking snapshots. Satisfied by signalfeed.Feed.
type RankingSource interface {
	Run(ctx context.Context) error
	Snapshots() <-chan types.RankingSnapshot
}

// Config holds engine configuration.
type Config struct {
	// RebalancesPerMinute throttles ranking-driven rebalances. Snapshots
	// arriving over the limit are dropped; the next one carries the same
	// state anyway.
	RebalancesPerMinute float64

	HealthInterval   time.Duration
	UnwindOnShutdown bool

	// AlertEvents reports whether an event should be notified.
	// A nil filter enables every event.
	AlertEvents func(alerting.AlertEvent) bool
}

// DefaultConfig returns default engine config.
func DefaultConfig() Config {
	return Config{
		RebalancesPerMinute: 2,
		HealthInterval:      45 * time.Second,
	}
}

// Engine coordinates all trading components.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	orch     *fleet.Orchestrator
	feed     RankingSource
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	limiter  *rate.Limiter

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// New creates an engine.
func New(
	cfg Config,
	orch *fleet.Orchestrator,
	feed RankingSource,
	alerter alerting.Alerter,
	logger *slog.Logger,
) (*Engine, error) {
	if orch == nil {
		return nil, fmt.Errorf("engine needs a fleet orchestrator")
	}
	if feed == nil {
		return nil, fmt.Errorf("engine needs a ranking source")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RebalancesPerMinute <= 0 {
		cfg.RebalancesPerMinute = DefaultConfig().RebalancesPerMinute
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultConfig().HealthInterval
	}

	return &Engine{
		cfg:      cfg,
		logger:   logger.With("component", "engine"),
		orch:     orch,
		feed:     feed,
		alerter:  alerter,
		recorder: metrics.NewRecorder(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RebalancesPerMinute/60), 1),
	}, nil
}

// Start launches the feed, the rebalance loop and the health loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Info("starting engine",
		"rebalances_per_minute", e.cfg.RebalancesPerMinute,
		"health_interval", e.cfg.HealthInterval,
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.feed.Run(runCtx); err != nil && runCtx.Err() == nil {
			e.logger.Error("ranking feed terminated", "err", err)
			e.recorder.RecordError("feed")
		}
	}()

	e.wg.Add(1)
	go e.rebalanceLoop(runCtx)

	e.wg.Add(1)
	go e.healthLoop(runCtx)

	e.alert(ctx, alerting.EventBotStarted, "Bot started")
	return nil
}

// rebalanceLoop consumes ranking snapshots and drives the fleet.
func (e *Engine) rebalanceLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-e.feed.Snapshots():
			if !ok {
				e.logger.Warn("ranking channel closed")
				return
			}

			if !e.limiter.Allow() {
				e.logger.Debug("rebalance throttled",
					"snapshot_ts", snap.Timestamp)
				continue
			}

			if err := e.orch.Rebalance(ctx, snap); err != nil {
				e.logger.Error("rebalance failed", "err", err)
				e.recorder.RecordError("rebalance")
			}
		}
	}
}

// healthLoop periodically probes worker health.
func (e *Engine) healthLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows := e.orch.HealthCheck(ctx)
			e.logger.Debug("health check", "workers", len(rows))
		}
	}
}

// FeedStateHandler returns a callback suitable for signalfeed's
// OnStateChange hook. It alerts on disconnects and on recoveries after
// a disconnect, but not on the initial connect.
func (e *Engine) FeedStateHandler() func(connected bool) {
	var mu sync.Mutex
	lost := false

	return func(connected bool) {
		mu.Lock()
		wasLost := lost
		lost = !connected
		mu.Unlock()

		ctx := context.Background()
		if !connected {
			e.alert(ctx, alerting.EventFeedLost, "Ranking feed connection lost")
			return
		}
		if wasLost {
			e.alert(ctx, alerting.EventFeedRestored, "Ranking feed reconnected")
		}
	}
}

// Status returns the cached fleet health snapshot.
func (e *Engine) Status() []types.WorkerHealth {
	return e.orch.Snapshot()
}

// Stop drains the loops and, when configured, unwinds the fleet.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info("stopping engine")

	cancel()
	e.wg.Wait()

	var err error
	if e.cfg.UnwindOnShutdown {
		err = e.orch.UnwindAll(ctx)
	}
	e.orch.Wait()

	e.alert(ctx, alerting.EventBotStopped, "Bot stopped",
		"active_workers", e.orch.ActiveCount())

	e.logger.Info("engine stopped")
	return err
}

// IsRunning returns true if the engine is running.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if e.alerter == nil {
		return
	}
	if e.cfg.AlertEvents != nil && !e.cfg.AlertEvents(event) {
		return
	}
	if err := e.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		e.logger.Warn("alert failed", "event", event, "err", err)
	}
}

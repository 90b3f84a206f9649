package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lsquant/twapbot/internal/bus"
	"github.com/lsquant/twapbot/internal/types"
	"github.com/lsquant/twapbot/internal/venue"
	"github.com/shopspring/decimal"
)

// HostConfig holds the execution parameters shared by every hosted worker.
// Per-worker parameters arrive with each deployment.
type HostConfig struct {
	Style          Style
	PriceBufferPct decimal.Decimal
	TickInterval   time.Duration
}

// Host runs a batch execution controller in-process for every worker it
// deploys. It decorates a venue lifecycle: Deploy starts a controller and
// its runner, Status answers from the live controller, Archive stops it.
// Unknown instance IDs (workers adopted from an earlier run) fall through
// to the wrapped lifecycle.
type Host struct {
	inner   venue.Lifecycle
	trading venue.Trading
	signals bus.Subscriber
	cfg     HostConfig
	logger  *slog.Logger

	mu      sync.Mutex
	workers map[string]*hostedWorker

	wg sync.WaitGroup
}

type hostedWorker struct {
	cancel       context.CancelFunc
	running      bool
	clockStopped bool
}

// NewHost creates a worker host over a venue lifecycle.
func NewHost(inner venue.Lifecycle, trading venue.Trading, signals bus.Subscriber, cfg HostConfig, logger *slog.Logger) (*Host, error) {
	if inner == nil {
		return nil, fmt.Errorf("%w: worker lifecycle is required", types.ErrInvalidConfig)
	}
	if trading == nil {
		return nil, fmt.Errorf("%w: trading venue is required", types.ErrInvalidConfig)
	}
	if signals == nil {
		return nil, fmt.Errorf("%w: signal subscriber is required", types.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Style == "" {
		cfg.Style = StyleMarket
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	return &Host{
		inner:   inner,
		trading: trading,
		signals: signals,
		cfg:     cfg,
		logger:  logger.With("component", "workerhost"),
		workers: make(map[string]*hostedWorker),
	}, nil
}

// Deploy registers the worker at the venue and starts its controller.
// The controller begins entering immediately and holds until the control
// topic delivers a start_exit (or the hold duration elapses).
func (h *Host) Deploy(ctx context.Context, instanceID string, wcfg venue.WorkerConfig) error {
	ctrl, err := New(Config{
		Symbol:         wcfg.Asset,
		Side:           wcfg.Side,
		TargetNotional: wcfg.TargetNotional,
		BatchNotional:  wcfg.BatchNotional,
		MinNotional:    wcfg.MinNotional,
		BatchInterval:  wcfg.BatchInterval,
		HoldDuration:   wcfg.HoldDuration,
		PriceBufferPct: h.cfg.PriceBufferPct,
		Style:          h.cfg.Style,
		AutoEntry:      true,
	}, h.trading, h.logger)
	if err != nil {
		return fmt.Errorf("worker controller: %w", err)
	}

	if err := h.inner.Deploy(ctx, instanceID, wcfg); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	hw := &hostedWorker{cancel: cancel, running: true}

	// A completed lifecycle is the worker's clean clock stop.
	ctrl.OnComplete(func(Summary) {
		h.mu.Lock()
		hw.clockStopped = true
		h.mu.Unlock()
	})

	runner := NewRunner(ctrl, h.signals, wcfg.ControlTopic, h.cfg.TickInterval, h.logger)

	h.mu.Lock()
	h.workers[instanceID] = hw
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := runner.Run(runCtx)
		h.mu.Lock()
		hw.running = false
		h.mu.Unlock()
		if err != nil && runCtx.Err() == nil {
			h.logger.Error("worker runner terminated", "instance_id", instanceID, "err", err)
		}
	}()

	h.logger.Info("worker controller hosted",
		"instance_id", instanceID,
		"symbol", wcfg.Asset,
		"side", wcfg.Side,
		"target_notional", wcfg.TargetNotional,
	)
	return nil
}

// Status reports the probe for a hosted worker from its live controller.
func (h *Host) Status(ctx context.Context, instanceID string) (venue.Probe, error) {
	h.mu.Lock()
	if hw, ok := h.workers[instanceID]; ok {
		probe := venue.Probe{Running: hw.running, ClockStopped: hw.clockStopped}
		h.mu.Unlock()
		return probe, nil
	}
	h.mu.Unlock()

	return h.inner.Status(ctx, instanceID)
}

// Archive stops the hosted runner and archives the worker at the venue.
func (h *Host) Archive(ctx context.Context, instanceID string) error {
	h.mu.Lock()
	if hw, ok := h.workers[instanceID]; ok {
		hw.cancel()
		delete(h.workers, instanceID)
	}
	h.mu.Unlock()

	return h.inner.Archive(ctx, instanceID)
}

// Close stops every hosted runner and waits for them to drain.
func (h *Host) Close() {
	h.mu.Lock()
	for _, hw := range h.workers {
		hw.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Interface guard.
var _ venue.Lifecycle = (*Host)(nil)

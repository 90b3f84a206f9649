// Package paper provides an in-memory venue for paper trading and tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/lsquant/twapbot/internal/venue"
	"github.com/shopspring/decimal"
)

// Config holds paper venue configuration.
type Config struct {
	FillDelay time.Duration   // time between submit and full fill; zero fills immediately
	FillRatio decimal.Decimal // fraction of each batch that fills; 1 means full fills
}

// DefaultConfig returns default paper venue config.
func DefaultConfig() Config {
	return Config{
		FillDelay: 0,
		FillRatio: decimal.NewFromInt(1),
	}
}

// Venue implements venue.Trading, venue.Instruments and venue.Lifecycle
// against in-memory state.
type Venue struct {
	cfg    Config
	logger *slog.Logger

	pricesMu sync.RWMutex
	prices   map[string]decimal.Decimal

	balancesMu sync.RWMutex
	balances   map[string]types.Balances

	execMu sync.Mutex
	execs  []*Execution

	workersMu sync.Mutex
	workers   map[string]*workerRecord

	nextID atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

type workerRecord struct {
	cfg          venue.WorkerConfig
	running      bool
	clockStopped bool
	archived     bool
}

// NewVenue creates a new paper venue.
func NewVenue(cfg Config, logger *slog.Logger) *Venue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FillRatio.IsZero() {
		cfg.FillRatio = decimal.NewFromInt(1)
	}

	return &Venue{
		cfg:      cfg,
		logger:   logger,
		prices:   make(map[string]decimal.Decimal),
		balances: make(map[string]types.Balances),
		workers:  make(map[string]*workerRecord),
		done:     make(chan struct{}),
	}
}

// SetPrice sets the last price for a symbol.
func (v *Venue) SetPrice(symbol string, price decimal.Decimal) {
	v.pricesMu.Lock()
	v.prices[symbol] = price
	v.pricesMu.Unlock()
}

// LastPrice returns the last observed price for a symbol.
func (v *Venue) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v.pricesMu.RLock()
	defer v.pricesMu.RUnlock()

	price, ok := v.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrDataUnavailable, symbol)
	}
	return price, nil
}

// FilledBalances returns the cumulative signed fill flow for a symbol.
func (v *Venue) FilledBalances(ctx context.Context, symbol string) (types.Balances, error) {
	v.balancesMu.RLock()
	defer v.balancesMu.RUnlock()
	return v.balances[symbol], nil
}

// Symbols lists all symbols with a price set.
func (v *Venue) Symbols(ctx context.Context) ([]string, error) {
	v.pricesMu.RLock()
	defer v.pricesMu.RUnlock()

	symbols := make([]string, 0, len(v.prices))
	for s := range v.prices {
		symbols = append(symbols, s)
	}
	return symbols, nil
}

// SubmitBatch accepts a batch and fills it after the configured delay.
func (v *Venue) SubmitBatch(ctx context.Context, order venue.BatchOrder) (venue.BatchExecution, error) {
	if order.BaseAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: non-positive base amount", venue.ErrBatchRejected)
	}

	price := order.LimitPrice
	if price.IsZero() {
		last, err := v.LastPrice(ctx, order.Symbol)
		if err != nil {
			return nil, err
		}
		price = last
	}

	exec := &Execution{
		id:      fmt.Sprintf("PAPER-%d", v.nextID.Add(1)),
		levelID: order.LevelID,
		active:  true,
	}

	v.execMu.Lock()
	v.execs = append(v.execs, exec)
	v.execMu.Unlock()

	v.logger.Debug("paper batch submitted",
		"symbol", order.Symbol,
		"side", order.Side,
		"base_amount", order.BaseAmount,
		"price", price,
		"level_id", order.LevelID,
	)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.fill(exec, order, price)
	}()

	return exec, nil
}

// fill settles a batch: updates the cumulative balances and closes the handle.
func (v *Venue) fill(exec *Execution, order venue.BatchOrder, price decimal.Decimal) {
	if v.cfg.FillDelay > 0 {
		select {
		case <-v.done:
			exec.close("cancelled", decimal.Zero)
			return
		case <-time.After(v.cfg.FillDelay):
		}
	}

	filledBase := order.BaseAmount.Mul(v.cfg.FillRatio)
	quoteFlow := filledBase.Mul(price)

	v.balancesMu.Lock()
	bal := v.balances[order.Symbol]
	if order.Side == types.SideLong {
		bal.Quote = bal.Quote.Sub(quoteFlow)
		bal.Base = bal.Base.Add(filledBase)
	} else {
		bal.Quote = bal.Quote.Add(quoteFlow)
		bal.Base = bal.Base.Sub(filledBase)
	}
	v.balances[order.Symbol] = bal
	v.balancesMu.Unlock()

	reason := "completed"
	if v.cfg.FillRatio.LessThan(decimal.NewFromInt(1)) {
		reason = "expired"
	}
	exec.close(reason, filledBase)
}

// Deploy records a worker process as running.
func (v *Venue) Deploy(ctx context.Context, instanceID string, cfg venue.WorkerConfig) error {
	v.workersMu.Lock()
	defer v.workersMu.Unlock()

	v.workers[instanceID] = &workerRecord{cfg: cfg, running: true}
	v.logger.Debug("paper worker deployed", "instance_id", instanceID, "asset", cfg.Asset)
	return nil
}

// Status reports the current probe for a worker.
func (v *Venue) Status(ctx context.Context, instanceID string) (venue.Probe, error) {
	v.workersMu.Lock()
	defer v.workersMu.Unlock()

	rec, ok := v.workers[instanceID]
	if !ok {
		return venue.Probe{}, fmt.Errorf("%w: %s", venue.ErrWorkerUnknown, instanceID)
	}
	return venue.Probe{Running: rec.running, ClockStopped: rec.clockStopped}, nil
}

// Archive marks a worker archived.
func (v *Venue) Archive(ctx context.Context, instanceID string) error {
	v.workersMu.Lock()
	defer v.workersMu.Unlock()

	rec, ok := v.workers[instanceID]
	if !ok {
		return fmt.Errorf("%w: %s", venue.ErrWorkerUnknown, instanceID)
	}
	rec.archived = true
	rec.running = false
	return nil
}

// StopWorker simulates a worker process stopping with a clean clock stop.
func (v *Venue) StopWorker(instanceID string) {
	v.workersMu.Lock()
	defer v.workersMu.Unlock()

	if rec, ok := v.workers[instanceID]; ok {
		rec.running = false
		rec.clockStopped = true
	}
}

// CrashWorker simulates a worker process dying without a clock stop.
func (v *Venue) CrashWorker(instanceID string) {
	v.workersMu.Lock()
	defer v.workersMu.Unlock()

	if rec, ok := v.workers[instanceID]; ok {
		rec.running = false
	}
}

// IsArchived reports whether a worker has been archived.
func (v *Venue) IsArchived(instanceID string) bool {
	v.workersMu.Lock()
	defer v.workersMu.Unlock()

	rec, ok := v.workers[instanceID]
	return ok && rec.archived
}

// Shutdown stops pending fills and waits for them to drain.
func (v *Venue) Shutdown(ctx context.Context) error {
	close(v.done)
	v.wg.Wait()
	return nil
}

// Execution implements venue.BatchExecution for paper fills.
type Execution struct {
	mu          sync.Mutex
	id          string
	levelID     string
	active      bool
	closeReason string
	filledBase  decimal.Decimal
}

func (e *Execution) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Execution) IsDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.active
}

func (e *Execution) CloseReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeReason
}

func (e *Execution) FilledBase() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filledBase
}

func (e *Execution) LevelID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.levelID
}

func (e *Execution) close(reason string, filled decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.closeReason = reason
	e.filledBase = filled
}

// Interface guards.
var (
	_ venue.Trading     = (*Venue)(nil)
	_ venue.Instruments = (*Venue)(nil)
	_ venue.Lifecycle   = (*Venue)(nil)
)

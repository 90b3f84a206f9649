// Package execution implements the per-position batch execution controller:
// a timed state machine that enters a target notional via capped batch
// orders, holds the position, then exits it the same way.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lsquant/twapbot/internal/metrics"
	"github.com/lsquant/twapbot/internal/types"
	"github.com/lsquant/twapbot/internal/venue"
	"github.com/shopspring/decimal"
)

// Style selects how batch prices are set.
type Style string

const (
	StyleMarket     Style = "market"
	StyleLimitMaker Style = "limit_maker"
)

// Config holds the immutable parameters of one controller.
type Config struct {
	Symbol         string
	Side           types.Side
	TargetNotional decimal.Decimal
	BatchNotional  decimal.Decimal
	MinNotional    decimal.Decimal
	BatchInterval  time.Duration
	HoldDuration   time.Duration // zero disables the automatic hold-then-exit
	PriceBufferPct decimal.Decimal
	Style          Style
	AutoEntry      bool // begin entering on the first tick instead of waiting for a signal
}

// Validate rejects unusable parameters. Construction fails on error.
func (c Config) Validate() error {
	var errs []string

	if c.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if c.Side != types.SideLong && c.Side != types.SideShort {
		errs = append(errs, "side must be long or short")
	}
	if c.TargetNotional.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "target_notional must be positive")
	}
	if c.BatchNotional.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "batch_notional must be positive")
	}
	if c.MinNotional.IsNegative() {
		errs = append(errs, "min_notional must not be negative")
	}
	if c.TargetNotional.LessThanOrEqual(c.MinNotional) {
		errs = append(errs, "target_notional must exceed min_notional")
	}
	if c.BatchInterval <= 0 {
		errs = append(errs, "batch_interval must be positive")
	}
	if c.PriceBufferPct.IsNegative() {
		errs = append(errs, "price_buffer_pct must not be negative")
	}
	if c.Style != StyleMarket && c.Style != StyleLimitMaker {
		errs = append(errs, fmt.Sprintf("unknown execution style %q", c.Style))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Summary is the final report passed to the completion callback.
type Summary struct {
	Symbol           string
	Side             types.Side
	FilledEntryQuote decimal.Decimal
	FilledExitBase   decimal.Decimal
	AvgEntryPrice    decimal.Decimal
	ResidualBase     decimal.Decimal
	EntryBatches     int
	ExitBatches      int
}

// Controller is the per-position TWAP state machine. All mutation happens
// inside its own Tick or HandleSignal; callers read through Status.
type Controller struct {
	cfg     Config
	trading venue.Trading
	logger  *slog.Logger
	rec     *metrics.Recorder
	now     func() time.Time

	mu         sync.Mutex
	state      types.ControllerState
	onComplete func(Summary)

	entryPlanned   int
	entryCompleted int
	exitPlanned    int
	exitCompleted  int
	entrySeq       int
	exitSeq        int

	filledEntryQuote decimal.Decimal
	filledExitBase   decimal.Decimal
	positionBase     decimal.Decimal
	exitStartBase    decimal.Decimal

	lastBatchAt  time.Time
	holdingSince time.Time

	activeEntry venue.BatchExecution
	activeExit  venue.BatchExecution

	reported bool
}

// New creates a controller. Configuration errors are fatal here.
func New(cfg Config, trading venue.Trading, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:          cfg,
		trading:      trading,
		logger:       logger.With("symbol", cfg.Symbol, "side", cfg.Side),
		rec:          metrics.NewRecorder(),
		now:          time.Now,
		state:        types.StateIdle,
		entryPlanned: plannedBatches(cfg.TargetNotional, cfg.BatchNotional),
	}, nil
}

// OnComplete registers the completion callback, invoked exactly once when
// the controller reaches Completed.
func (c *Controller) OnComplete(fn func(Summary)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onComplete = fn
}

// State returns the current state.
func (c *Controller) State() types.ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller's progress.
func (c *Controller) Status() types.ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	avgEntry := decimal.Zero
	if c.positionBase.IsPositive() {
		avgEntry = c.filledEntryQuote.Div(c.positionBase)
	}

	return types.ControllerStatus{
		State:                 c.state,
		Side:                  c.cfg.Side,
		TargetNotional:        c.cfg.TargetNotional,
		EntryBatchesPlanned:   c.entryPlanned,
		EntryBatchesCompleted: c.entryCompleted,
		ExitBatchesPlanned:    c.exitPlanned,
		ExitBatchesCompleted:  c.exitCompleted,
		FilledEntryQuote:      c.filledEntryQuote,
		FilledExitBase:        c.filledExitBase,
		PositionBase:          c.positionBase,
		AvgEntryPrice:         avgEntry,
	}
}

// HandleSignal applies an external control signal. Recognized signals in
// the wrong state return ErrSignalRejected; unknown actions are logged and
// ignored.
func (c *Controller) HandleSignal(sig types.ControlSignal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sig.Action {
	case types.SignalStartEntry:
		if c.state != types.StateIdle {
			return fmt.Errorf("%w: start_entry in %s", types.ErrSignalRejected, c.state)
		}
		c.transition(types.StateEntering)
		return nil

	case types.SignalStartExit:
		if c.state != types.StateEntering && c.state != types.StateHolding {
			return fmt.Errorf("%w: start_exit in %s", types.ErrSignalRejected, c.state)
		}
		c.beginExit()
		return nil

	case types.SignalIncreaseTarget:
		if c.state != types.StateHolding {
			if c.state == types.StateExiting {
				return fmt.Errorf("%w: increase_target while exiting", types.ErrExitActive)
			}
			return fmt.Errorf("%w: increase_target in %s", types.ErrSignalRejected, c.state)
		}
		if sig.Value.LessThanOrEqual(c.cfg.TargetNotional) {
			return fmt.Errorf("%w: new target %s not above current %s",
				types.ErrSignalRejected, sig.Value, c.cfg.TargetNotional)
		}
		c.cfg.TargetNotional = sig.Value
		c.entryPlanned = plannedBatches(c.cfg.TargetNotional, c.cfg.BatchNotional)
		c.transition(types.StateEntering)
		c.logger.Info("target increased, resuming entry",
			"new_target", sig.Value,
			"entry_batches_planned", c.entryPlanned,
		)
		return nil

	default:
		c.logger.Warn("ignoring unknown control signal", "action", int(sig.Action))
		return nil
	}
}

// Tick evaluates the state machine once. Ticks are idempotent no-ops when
// no condition fires; transient venue errors skip the tick and are retried
// naturally on the next one. A panic inside a tick is unrecoverable and
// parks the controller in Error.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("unrecoverable fault during tick", "panic", r)
			c.transition(types.StateError)
		}
	}()

	switch c.state {
	case types.StateIdle:
		if c.cfg.AutoEntry {
			c.transition(types.StateEntering)
		}
		return nil
	case types.StateEntering:
		return c.tickEntering(ctx)
	case types.StateHolding:
		return c.tickHolding(ctx)
	case types.StateExiting:
		return c.tickExiting(ctx)
	default:
		// Completed and Error are terminal.
		return nil
	}
}

func (c *Controller) tickEntering(ctx context.Context) error {
	if err := c.refreshFills(ctx); err != nil {
		c.logger.Warn("fill refresh failed, skipping tick", "err", err)
		return nil
	}

	c.reconcileExecutor(&c.activeEntry, &c.entryCompleted, types.PhaseEntry)

	// Entry saturates once the unfilled remainder is below one viable batch.
	if c.filledEntryQuote.GreaterThanOrEqual(c.cfg.TargetNotional.Sub(c.cfg.MinNotional)) {
		if c.entryCompleted > c.entryPlanned {
			c.entryPlanned = c.entryCompleted
		}
		c.holdingSince = c.now()
		c.transition(types.StateHolding)
		c.logger.Info("entry complete",
			"filled_quote", c.filledEntryQuote,
			"position_base", c.positionBase,
			"batches", c.entryCompleted,
		)
		return nil
	}

	if !c.canDispatch(c.activeEntry) {
		return nil
	}

	remaining := c.cfg.TargetNotional.Sub(c.filledEntryQuote)
	batch, ok := c.sizeBatch(remaining, &c.entryPlanned)
	if !ok {
		return nil
	}

	return c.dispatch(ctx, types.PhaseEntry, c.cfg.Side, batch, decimal.Zero)
}

func (c *Controller) tickHolding(ctx context.Context) error {
	if err := c.refreshFills(ctx); err != nil {
		c.logger.Warn("fill refresh failed, skipping tick", "err", err)
		return nil
	}

	// A final entry batch may still be resolving at the venue.
	c.reconcileExecutor(&c.activeEntry, &c.entryCompleted, types.PhaseEntry)

	if c.cfg.HoldDuration > 0 && c.now().Sub(c.holdingSince) >= c.cfg.HoldDuration {
		c.logger.Info("hold duration elapsed, starting exit")
		c.beginExit()
	}
	return nil
}

func (c *Controller) tickExiting(ctx context.Context) error {
	bal, err := c.trading.FilledBalances(ctx, c.cfg.Symbol)
	if err != nil {
		c.logger.Warn("fill refresh failed, skipping tick", "err", err)
		return nil
	}

	// The exit target is frozen at exit start; only the remaining base is
	// re-read to measure progress.
	currentBase := bal.Base.Abs()
	exited := c.exitStartBase.Sub(currentBase)
	if exited.GreaterThan(c.filledExitBase) {
		c.filledExitBase = exited
	}
	c.rec.RecordExitFill(c.cfg.Symbol, c.filledExitBase)

	c.reconcileExecutor(&c.activeExit, &c.exitCompleted, types.PhaseExit)

	remainingBase := c.exitStartBase.Sub(c.filledExitBase)
	if remainingBase.LessThanOrEqual(decimal.Zero) {
		c.complete(decimal.Zero)
		return nil
	}

	price, err := c.lastPrice(ctx)
	if err != nil {
		c.logger.Warn("price unavailable, skipping tick", "err", err)
		return nil
	}

	remainingQuote := remainingBase.Mul(price)
	if remainingQuote.LessThanOrEqual(c.cfg.MinNotional) {
		if c.activeExit == nil {
			// Best-effort exit: the residual is below one viable batch.
			c.logger.Warn("exit complete with residual position",
				"residual_base", remainingBase,
				"residual_quote", remainingQuote,
			)
			c.complete(remainingBase)
		}
		return nil
	}

	if !c.canDispatch(c.activeExit) {
		return nil
	}

	batch, ok := c.sizeBatch(remainingQuote, &c.exitPlanned)
	if !ok {
		return nil
	}

	return c.dispatch(ctx, types.PhaseExit, c.cfg.Side.Opposite(), batch, remainingBase)
}

// beginExit snapshots the authoritative position size and plans the exit.
// Callers hold the lock.
func (c *Controller) beginExit() {
	c.exitStartBase = c.positionBase
	c.filledExitBase = decimal.Zero
	c.exitPlanned = 1
	if c.positionBase.IsPositive() {
		// Plan in quote terms using entry value as the best available proxy.
		c.exitPlanned = plannedBatches(c.filledEntryQuote, c.cfg.BatchNotional)
	}
	c.transition(types.StateExiting)
	c.logger.Info("exit started",
		"position_base", c.exitStartBase,
		"exit_batches_planned", c.exitPlanned,
	)
}

// refreshFills re-reads cumulative venue balances. Entry fill is the
// absolute quote flow; position size is the absolute net base balance.
// Both are clamped monotonic against out-of-order reads.
func (c *Controller) refreshFills(ctx context.Context) error {
	bal, err := c.trading.FilledBalances(ctx, c.cfg.Symbol)
	if err != nil {
		return err
	}

	quote := bal.Quote.Abs()
	if quote.GreaterThan(c.filledEntryQuote) {
		c.filledEntryQuote = quote
	}
	c.positionBase = bal.Base.Abs()
	c.rec.RecordEntryFill(c.cfg.Symbol, c.filledEntryQuote)
	return nil
}

// reconcileExecutor folds a finished batch back into the counters. A batch
// that closed for any reason other than completing its fill is logged and
// not retried; the next tick dispatches a fresh batch anyway.
func (c *Controller) reconcileExecutor(exec *venue.BatchExecution, completed *int, phase types.Phase) {
	if *exec == nil || !(*exec).IsDone() {
		return
	}

	reason := (*exec).CloseReason()
	if reason == "" || reason == "completed" {
		*completed++
	} else {
		c.logger.Warn("batch closed without completing",
			"phase", phase,
			"level_id", (*exec).LevelID(),
			"close_reason", reason,
			"filled_base", (*exec).FilledBase(),
		)
		c.rec.RecordBatchFailed(c.cfg.Symbol, phase.String(), reason)
	}
	*exec = nil
}

// canDispatch enforces the two dispatch gates: the inter-batch interval and
// at most one in-flight batch per phase.
func (c *Controller) canDispatch(active venue.BatchExecution) bool {
	if active != nil && active.IsActive() {
		return false
	}
	if active != nil {
		// Done but not yet reconciled; wait for the next tick.
		return false
	}
	if !c.lastBatchAt.IsZero() && c.now().Sub(c.lastBatchAt) < c.cfg.BatchInterval {
		return false
	}
	return true
}

// sizeBatch applies the batch sizing algorithm to a remaining quote amount.
// Returns false when the phase is saturated pending fill confirmation.
func (c *Controller) sizeBatch(remaining decimal.Decimal, planned *int) (decimal.Decimal, bool) {
	if remaining.LessThanOrEqual(c.cfg.MinNotional) {
		return decimal.Zero, false
	}

	batch := decimal.Min(c.cfg.BatchNotional, remaining)
	if remaining.Sub(batch).LessThan(c.cfg.MinNotional) {
		// Last-batch absorption: take the whole remainder and fold the
		// would-be runt batch into this one.
		batch = remaining
		if *planned > 1 {
			*planned--
		}
	}
	return batch, true
}

// dispatch converts a quote-denominated batch into a base order and submits
// it. maxBase caps the base amount for exit batches; zero means uncapped.
func (c *Controller) dispatch(ctx context.Context, phase types.Phase, side types.Side, batchQuote, maxBase decimal.Decimal) error {
	price, err := c.lastPrice(ctx)
	if err != nil {
		c.logger.Warn("price unavailable, skipping dispatch", "err", err)
		return nil
	}

	baseAmount := batchQuote.Div(price)
	if maxBase.IsPositive() && baseAmount.GreaterThan(maxBase) {
		baseAmount = maxBase
	}
	if baseAmount.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var seq int
	if phase == types.PhaseEntry {
		c.entrySeq++
		seq = c.entrySeq
	} else {
		c.exitSeq++
		seq = c.exitSeq
	}
	levelID := fmt.Sprintf("%s_batch_%d", phase, seq)

	order := venue.BatchOrder{
		Symbol:     c.cfg.Symbol,
		Side:       side,
		BaseAmount: baseAmount,
		LimitPrice: c.limitPrice(price, side),
		LevelID:    levelID,
	}

	exec, err := c.trading.SubmitBatch(ctx, order)
	if err != nil {
		c.logger.Error("batch submission failed", "phase", phase, "level_id", levelID, "err", err)
		c.rec.RecordBatchFailed(c.cfg.Symbol, phase.String(), "submit_error")
		return nil
	}

	if phase == types.PhaseEntry {
		c.activeEntry = exec
	} else {
		c.activeExit = exec
	}
	c.lastBatchAt = c.now()
	c.rec.RecordBatchSubmitted(c.cfg.Symbol, phase.String())

	c.logger.Info("batch dispatched",
		"phase", phase,
		"level_id", levelID,
		"batch_quote", batchQuote,
		"base_amount", baseAmount,
		"price", price,
	)
	return nil
}

// limitPrice biases a resting order toward a fast fill: inflated for buys,
// deflated for sells. Market style returns zero (no limit).
func (c *Controller) limitPrice(last decimal.Decimal, side types.Side) decimal.Decimal {
	if c.cfg.Style == StyleMarket {
		return decimal.Zero
	}

	one := decimal.NewFromInt(1)
	if side == types.SideLong {
		return last.Mul(one.Add(c.cfg.PriceBufferPct))
	}
	return last.Mul(one.Sub(c.cfg.PriceBufferPct))
}

func (c *Controller) lastPrice(ctx context.Context) (decimal.Decimal, error) {
	price, err := c.trading.LastPrice(ctx, c.cfg.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: %s", types.ErrInvalidPrice, price)
	}
	return price, nil
}

// complete finishes the controller and emits the final report exactly once.
// Callers hold the lock.
func (c *Controller) complete(residual decimal.Decimal) {
	if c.exitCompleted > c.exitPlanned {
		c.exitPlanned = c.exitCompleted
	}
	c.transition(types.StateCompleted)

	if c.reported {
		return
	}
	c.reported = true

	avgEntry := decimal.Zero
	if c.exitStartBase.IsPositive() {
		avgEntry = c.filledEntryQuote.Div(c.exitStartBase)
	}

	summary := Summary{
		Symbol:           c.cfg.Symbol,
		Side:             c.cfg.Side,
		FilledEntryQuote: c.filledEntryQuote,
		FilledExitBase:   c.filledExitBase,
		AvgEntryPrice:    avgEntry,
		ResidualBase:     residual,
		EntryBatches:     c.entryCompleted,
		ExitBatches:      c.exitCompleted,
	}

	c.logger.Info("position lifecycle complete",
		"entry_quote", summary.FilledEntryQuote,
		"exit_base", summary.FilledExitBase,
		"avg_entry_price", summary.AvgEntryPrice,
		"residual_base", summary.ResidualBase,
		"entry_batches", summary.EntryBatches,
		"exit_batches", summary.ExitBatches,
	)

	if c.onComplete != nil {
		// Detached so a slow callback cannot stall the tick loop.
		go c.onComplete(summary)
	}
}

// transition records a state change. Callers hold the lock.
func (c *Controller) transition(next types.ControllerState) {
	if c.state == next {
		return
	}
	c.logger.Info("state transition", "from", c.state, "to", next)
	c.state = next
	c.rec.RecordStateTransition(c.cfg.Symbol, next.String())
}

// plannedBatches is the initial batch count for a notional at a given cap.
func plannedBatches(total, batch decimal.Decimal) int {
	if batch.LessThanOrEqual(decimal.Zero) {
		return 1
	}
	n := int(total.Div(batch).Ceil().IntPart())
	if n < 1 {
		n = 1
	}
	return n
}

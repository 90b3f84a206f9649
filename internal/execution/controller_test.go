package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/lsquant/twapbot/internal/venue"
	"github.com/shopspring/decimal"
)

// fakeExec is a deterministic venue.BatchExecution for tests.
type fakeExec struct {
	active  bool
	reason  string
	filled  decimal.Decimal
	levelID string
}

func (e *fakeExec) IsActive() bool              { return e.active }
func (e *fakeExec) IsDone() bool                { return !e.active }
func (e *fakeExec) CloseReason() string         { return e.reason }
func (e *fakeExec) FilledBase() decimal.Decimal { return e.filled }
func (e *fakeExec) LevelID() string             { return e.levelID }

// fakeVenue is a synchronous venue.Trading double. Fills only move when the
// test calls completeLast, so every tick is fully deterministic.
type fakeVenue struct {
	price     decimal.Decimal
	priceErr  error
	balances  types.Balances
	submitted []venue.BatchOrder
	execs     []*fakeExec
	submitErr error
	panicNext bool
}

func newFakeVenue(price string) *fakeVenue {
	return &fakeVenue{price: decimal.RequireFromString(price)}
}

func (f *fakeVenue) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if f.panicNext {
		panic("venue fault")
	}
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	return f.price, nil
}

func (f *fakeVenue) FilledBalances(ctx context.Context, symbol string) (types.Balances, error) {
	if f.panicNext {
		panic("venue fault")
	}
	return f.balances, nil
}

func (f *fakeVenue) SubmitBatch(ctx context.Context, order venue.BatchOrder) (venue.BatchExecution, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	exec := &fakeExec{active: true, levelID: order.LevelID}
	f.submitted = append(f.submitted, order)
	f.execs = append(f.execs, exec)
	return exec, nil
}

// completeLast settles the most recent batch in full at the fake's price
// and folds it into the cumulative balances.
func (f *fakeVenue) completeLast() {
	exec := f.execs[len(f.execs)-1]
	order := f.submitted[len(f.submitted)-1]

	exec.active = false
	exec.reason = "completed"
	exec.filled = order.BaseAmount

	quote := order.BaseAmount.Mul(f.price)
	if order.Side == types.SideLong {
		f.balances.Quote = f.balances.Quote.Sub(quote)
		f.balances.Base = f.balances.Base.Add(order.BaseAmount)
	} else {
		f.balances.Quote = f.balances.Quote.Add(quote)
		f.balances.Base = f.balances.Base.Sub(order.BaseAmount)
	}
}

// failLast closes the most recent batch without any fill.
func (f *fakeVenue) failLast(reason string) {
	exec := f.execs[len(f.execs)-1]
	exec.active = false
	exec.reason = reason
}

func testConfig() Config {
	return Config{
		Symbol:         "BTC",
		Side:           types.SideLong,
		TargetNotional: decimal.RequireFromString("100"),
		BatchNotional:  decimal.RequireFromString("30"),
		MinNotional:    decimal.RequireFromString("5"),
		BatchInterval:  15 * time.Second,
		PriceBufferPct: decimal.RequireFromString("0.001"),
		Style:          StyleMarket,
		AutoEntry:      true,
	}
}

// newTestController wires a controller to a fake venue and a manual clock.
func newTestController(t *testing.T, cfg Config, fv *fakeVenue) (*Controller, *time.Time) {
	t.Helper()

	c, err := New(cfg, fv, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing symbol", func(c *Config) { c.Symbol = "" }},
		{"flat side", func(c *Config) { c.Side = types.SideFlat }},
		{"zero target", func(c *Config) { c.TargetNotional = decimal.Zero }},
		{"zero batch", func(c *Config) { c.BatchNotional = decimal.Zero }},
		{"negative min notional", func(c *Config) { c.MinNotional = decimal.NewFromInt(-1) }},
		{"target below min notional", func(c *Config) { c.TargetNotional = decimal.NewFromInt(3) }},
		{"zero interval", func(c *Config) { c.BatchInterval = 0 }},
		{"negative buffer", func(c *Config) { c.PriceBufferPct = decimal.NewFromInt(-1) }},
		{"unknown style", func(c *Config) { c.Style = "iceberg" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if err := testConfig().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestController_EntryLifecycle(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	// First tick leaves Idle.
	if err := c.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != types.StateEntering {
		t.Fatalf("state = %s, want ENTERING", c.State())
	}

	// Three full batches of 30, then an absorbed batch of 10.
	wantQuotes := []string{"30", "30", "30", "10"}
	for i, want := range wantQuotes {
		if err := c.Tick(ctx); err != nil {
			t.Fatal(err)
		}
		if len(fv.submitted) != i+1 {
			t.Fatalf("after tick %d: %d batches submitted, want %d", i, len(fv.submitted), i+1)
		}

		order := fv.submitted[i]
		wantBase := decimal.RequireFromString(want).Div(fv.price)
		if !order.BaseAmount.Equal(wantBase) {
			t.Errorf("batch %d base = %s, want %s", i, order.BaseAmount, wantBase)
		}
		if order.Side != types.SideLong {
			t.Errorf("batch %d side = %s, want LONG", i, order.Side)
		}

		fv.completeLast()
		*now = now.Add(16 * time.Second)
	}

	// Level ids are sequential per phase.
	if got := fv.submitted[3].LevelID; got != "entry_batch_4" {
		t.Errorf("level id = %s, want entry_batch_4", got)
	}

	// Next tick observes full fill and transitions to Holding.
	if err := c.Tick(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != types.StateHolding {
		t.Fatalf("state = %s, want HOLDING", c.State())
	}

	st := c.Status()
	if !st.FilledEntryQuote.Equal(decimal.RequireFromString("100")) {
		t.Errorf("filled entry quote = %s, want 100", st.FilledEntryQuote)
	}
	if st.EntryBatchesCompleted != 4 {
		t.Errorf("entry batches completed = %d, want 4", st.EntryBatchesCompleted)
	}
	if st.EntryBatchesCompleted > st.EntryBatchesPlanned {
		t.Errorf("completed %d exceeds planned %d after reconciliation",
			st.EntryBatchesCompleted, st.EntryBatchesPlanned)
	}
}

func TestController_AtMostOneInFlight(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	c.Tick(ctx) // Idle -> Entering
	c.Tick(ctx) // dispatch first batch

	if len(fv.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(fv.submitted))
	}

	// Interval elapses but the batch is still active: no new dispatch.
	*now = now.Add(time.Minute)
	for i := 0; i < 3; i++ {
		c.Tick(ctx)
	}
	if len(fv.submitted) != 1 {
		t.Errorf("submitted = %d with batch in flight, want 1", len(fv.submitted))
	}
}

func TestController_IntervalGating(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	c.Tick(ctx)
	c.Tick(ctx)
	fv.completeLast()

	// Batch resolved but interval not yet elapsed.
	*now = now.Add(5 * time.Second)
	c.Tick(ctx)
	if len(fv.submitted) != 1 {
		t.Errorf("submitted = %d before interval elapsed, want 1", len(fv.submitted))
	}

	*now = now.Add(11 * time.Second)
	c.Tick(ctx)
	if len(fv.submitted) != 2 {
		t.Errorf("submitted = %d after interval elapsed, want 2", len(fv.submitted))
	}
}

func TestController_MonotonicEntryFill(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	c.Tick(ctx)
	c.Tick(ctx)
	fv.completeLast()
	*now = now.Add(16 * time.Second)
	c.Tick(ctx)

	before := c.Status().FilledEntryQuote

	// A glitched venue read reporting less flow must not move fills backward.
	fv.balances.Quote = decimal.RequireFromString("-1")
	c.Tick(ctx)

	after := c.Status().FilledEntryQuote
	if after.LessThan(before) {
		t.Errorf("filled entry quote decreased: %s -> %s", before, after)
	}
}

func TestController_FailedBatchIsNotCompleted(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	c.Tick(ctx)
	c.Tick(ctx)
	fv.failLast("cancelled")
	*now = now.Add(16 * time.Second)

	// The failed batch is reconciled away and a fresh one dispatched.
	c.Tick(ctx)
	if got := c.Status().EntryBatchesCompleted; got != 0 {
		t.Errorf("completed = %d after failed batch, want 0", got)
	}
	c.Tick(ctx)
	if len(fv.submitted) != 2 {
		t.Errorf("submitted = %d, want 2 (implicit retry on next tick)", len(fv.submitted))
	}
}

func TestController_HoldingAutoExit(t *testing.T) {
	cfg := testConfig()
	cfg.HoldDuration = 10 * time.Minute
	fv := newFakeVenue("10")
	c, now := newTestController(t, cfg, fv)
	ctx := context.Background()

	driveToHolding(t, c, fv, now)

	// Hold window not yet elapsed.
	*now = now.Add(9 * time.Minute)
	c.Tick(ctx)
	if c.State() != types.StateHolding {
		t.Fatalf("state = %s, want HOLDING", c.State())
	}

	*now = now.Add(2 * time.Minute)
	c.Tick(ctx)
	if c.State() != types.StateExiting {
		t.Fatalf("state = %s, want EXITING", c.State())
	}
}

func TestController_ExitLifecycle(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	driveToHolding(t, c, fv, now)
	posBase := c.Status().PositionBase

	done := make(chan Summary, 1)
	c.OnComplete(func(s Summary) { done <- s })

	if err := c.HandleSignal(types.ControlSignal{Action: types.SignalStartExit}); err != nil {
		t.Fatalf("start_exit rejected: %v", err)
	}
	if c.State() != types.StateExiting {
		t.Fatalf("state = %s, want EXITING", c.State())
	}

	entryBatches := len(fv.submitted)
	for i := 0; i < 10 && c.State() == types.StateExiting; i++ {
		*now = now.Add(16 * time.Second)
		c.Tick(ctx)
		if len(fv.execs) > 0 && fv.execs[len(fv.execs)-1].active {
			fv.completeLast()
		}
	}
	// One more tick to observe the final fill.
	c.Tick(ctx)

	if c.State() != types.StateCompleted {
		t.Fatalf("state = %s, want COMPLETED", c.State())
	}

	// Exit batches trade the opposite side.
	for _, order := range fv.submitted[entryBatches:] {
		if order.Side != types.SideShort {
			t.Errorf("exit batch side = %s, want SHORT", order.Side)
		}
	}

	select {
	case s := <-done:
		if !s.FilledExitBase.Equal(posBase) {
			t.Errorf("exit base = %s, want %s", s.FilledExitBase, posBase)
		}
		if !s.ResidualBase.IsZero() {
			t.Errorf("residual = %s, want 0", s.ResidualBase)
		}
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestController_IdempotentFinalReport(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	driveToHolding(t, c, fv, now)

	done := make(chan Summary, 4)
	c.OnComplete(func(s Summary) { done <- s })
	c.HandleSignal(types.ControlSignal{Action: types.SignalStartExit})

	for i := 0; i < 10 && c.State() == types.StateExiting; i++ {
		*now = now.Add(16 * time.Second)
		c.Tick(ctx)
		if len(fv.execs) > 0 && fv.execs[len(fv.execs)-1].active {
			fv.completeLast()
		}
	}

	// Extra ticks after completion must not re-report.
	for i := 0; i < 5; i++ {
		c.Tick(ctx)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never fired")
	}

	select {
	case <-done:
		t.Fatal("final report emitted more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_IncreaseTarget(t *testing.T) {
	fv := newFakeVenue("10")
	c, now := newTestController(t, testConfig(), fv)

	driveToHolding(t, c, fv, now)

	err := c.HandleSignal(types.ControlSignal{
		Action: types.SignalIncreaseTarget,
		Value:  decimal.RequireFromString("220"),
	})
	if err != nil {
		t.Fatalf("increase_target rejected: %v", err)
	}
	if c.State() != types.StateEntering {
		t.Fatalf("state = %s, want ENTERING", c.State())
	}

	st := c.Status()
	if !st.TargetNotional.Equal(decimal.RequireFromString("220")) {
		t.Errorf("target = %s, want 220", st.TargetNotional)
	}
	if st.EntryBatchesPlanned != 8 { // ceil(220/30)
		t.Errorf("planned = %d, want 8", st.EntryBatchesPlanned)
	}

	// A lower target is rejected.
	err = c.HandleSignal(types.ControlSignal{
		Action: types.SignalIncreaseTarget,
		Value:  decimal.RequireFromString("50"),
	})
	if !errors.Is(err, types.ErrSignalRejected) {
		t.Errorf("error = %v, want ErrSignalRejected", err)
	}
}

func TestController_SignalRejections(t *testing.T) {
	fv := newFakeVenue("10")
	cfg := testConfig()
	cfg.AutoEntry = false
	c, now := newTestController(t, cfg, fv)

	// start_exit before any entry.
	err := c.HandleSignal(types.ControlSignal{Action: types.SignalStartExit})
	if !errors.Is(err, types.ErrSignalRejected) {
		t.Errorf("start_exit in IDLE: error = %v, want ErrSignalRejected", err)
	}

	// Unknown actions are ignored, not fatal.
	if err := c.HandleSignal(types.ControlSignal{Action: types.SignalAction(42)}); err != nil {
		t.Errorf("unknown signal: error = %v, want nil", err)
	}

	// start_entry drives Idle -> Entering exactly once.
	if err := c.HandleSignal(types.ControlSignal{Action: types.SignalStartEntry}); err != nil {
		t.Fatalf("start_entry rejected: %v", err)
	}
	err = c.HandleSignal(types.ControlSignal{Action: types.SignalStartEntry})
	if !errors.Is(err, types.ErrSignalRejected) {
		t.Errorf("second start_entry: error = %v, want ErrSignalRejected", err)
	}

	// increase_target while an exit is active is refused.
	driveToHoldingFrom(t, c, fv, now)
	c.HandleSignal(types.ControlSignal{Action: types.SignalStartExit})
	err = c.HandleSignal(types.ControlSignal{
		Action: types.SignalIncreaseTarget,
		Value:  decimal.RequireFromString("500"),
	})
	if !errors.Is(err, types.ErrExitActive) {
		t.Errorf("error = %v, want ErrExitActive", err)
	}
}

func TestController_AbsorptionScenario(t *testing.T) {
	// Target 1000, cap 100, min 12: plan = 10. After 900 filled the
	// remainder equals the cap but leaves no room for another viable
	// batch, so the final batch absorbs it and the plan drops to 9.
	cfg := testConfig()
	cfg.TargetNotional = decimal.RequireFromString("1000")
	cfg.BatchNotional = decimal.RequireFromString("100")
	cfg.MinNotional = decimal.RequireFromString("12")

	fv := newFakeVenue("10")
	c, now := newTestController(t, cfg, fv)
	ctx := context.Background()

	if c.Status().EntryBatchesPlanned != 10 {
		t.Fatalf("initial planned = %d, want 10", c.Status().EntryBatchesPlanned)
	}

	c.Tick(ctx) // Idle -> Entering
	for i := 0; i < 9; i++ {
		c.Tick(ctx)
		fv.completeLast()
		*now = now.Add(16 * time.Second)
	}

	// Tenth dispatch absorbs the full remainder of 100.
	c.Tick(ctx)
	if len(fv.submitted) != 10 {
		t.Fatalf("submitted = %d, want 10", len(fv.submitted))
	}
	last := fv.submitted[9]
	if !last.BaseAmount.Mul(fv.price).Equal(decimal.RequireFromString("100")) {
		t.Errorf("absorbed batch quote = %s, want 100", last.BaseAmount.Mul(fv.price))
	}
	if got := c.Status().EntryBatchesPlanned; got != 9 {
		t.Errorf("planned after absorption = %d, want 9", got)
	}

	fv.completeLast()
	*now = now.Add(16 * time.Second)
	c.Tick(ctx)

	// No eleventh batch; counters reconciled at the Holding transition.
	if c.State() != types.StateHolding {
		t.Fatalf("state = %s, want HOLDING", c.State())
	}
	if len(fv.submitted) != 10 {
		t.Errorf("submitted = %d after saturation, want 10", len(fv.submitted))
	}
	st := c.Status()
	if st.EntryBatchesPlanned != st.EntryBatchesCompleted {
		t.Errorf("planned %d != completed %d after reconciliation",
			st.EntryBatchesPlanned, st.EntryBatchesCompleted)
	}
}

func TestController_BatchSizingInvariant(t *testing.T) {
	cfg := testConfig()
	cfg.TargetNotional = decimal.RequireFromString("1000")
	cfg.BatchNotional = decimal.RequireFromString("100")
	cfg.MinNotional = decimal.RequireFromString("12")

	fv := newFakeVenue("10")
	c, _ := newTestController(t, cfg, fv)

	remainders := []string{"13", "50", "100", "111.99", "112", "250", "1000"}
	for _, rem := range remainders {
		remaining := decimal.RequireFromString(rem)
		planned := 10
		batch, ok := c.sizeBatch(remaining, &planned)
		if !ok {
			t.Errorf("remaining %s: no batch produced", rem)
			continue
		}

		// An absorbed last batch may exceed the cap by up to the min
		// notional; any other batch stays within min(cap, remaining).
		if !batch.IsPositive() ||
			(batch.GreaterThan(decimal.Min(cfg.BatchNotional, remaining)) && !batch.Equal(remaining)) {
			t.Errorf("remaining %s: batch %s above its bound", rem, batch)
		}
		left := remaining.Sub(batch)
		if left.LessThan(cfg.MinNotional) && !batch.Equal(remaining) {
			t.Errorf("remaining %s: leaves runt remainder %s", rem, left)
		}
	}

	// At or below min notional: saturated, no batch.
	planned := 10
	if _, ok := c.sizeBatch(decimal.RequireFromString("12"), &planned); ok {
		t.Error("remaining == min notional must not produce a batch")
	}
}

func TestController_LimitPriceBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.Style = StyleLimitMaker
	fv := newFakeVenue("10000")
	c, _ := newTestController(t, cfg, fv)
	ctx := context.Background()

	c.Tick(ctx)
	c.Tick(ctx)

	if len(fv.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(fv.submitted))
	}
	// Buy buffered upward by 0.1%.
	want := decimal.RequireFromString("10010")
	if !fv.submitted[0].LimitPrice.Equal(want) {
		t.Errorf("limit price = %s, want %s", fv.submitted[0].LimitPrice, want)
	}
}

func TestController_ErrorStateOnPanic(t *testing.T) {
	fv := newFakeVenue("10")
	c, _ := newTestController(t, testConfig(), fv)
	ctx := context.Background()

	c.Tick(ctx) // Idle -> Entering

	fv.panicNext = true
	c.Tick(ctx)
	if c.State() != types.StateError {
		t.Fatalf("state = %s, want ERROR", c.State())
	}

	// Error is terminal: further ticks are no-ops, no dispatches.
	fv.panicNext = false
	c.Tick(ctx)
	if c.State() != types.StateError {
		t.Errorf("state = %s after extra tick, want ERROR", c.State())
	}
	if len(fv.submitted) != 0 {
		t.Errorf("submitted = %d from ERROR state, want 0", len(fv.submitted))
	}
}

// driveToHolding runs an auto-entry controller through its full entry.
func driveToHolding(t *testing.T, c *Controller, fv *fakeVenue, now *time.Time) {
	t.Helper()
	ctx := context.Background()

	c.Tick(ctx) // Idle -> Entering
	driveToHoldingFrom(t, c, fv, now)
}

// driveToHoldingFrom completes entry for a controller already in Entering.
func driveToHoldingFrom(t *testing.T, c *Controller, fv *fakeVenue, now *time.Time) {
	t.Helper()
	ctx := context.Background()

	for i := 0; i < 20 && c.State() == types.StateEntering; i++ {
		c.Tick(ctx)
		if len(fv.execs) > 0 && fv.execs[len(fv.execs)-1].active {
			fv.completeLast()
		}
		*now = now.Add(16 * time.Second)
	}
	if c.State() != types.StateHolding {
		t.Fatalf("failed to reach HOLDING, state = %s", c.State())
	}
}

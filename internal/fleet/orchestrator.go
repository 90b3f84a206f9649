// Package fleet orchestrates the fleet of batch execution workers against
// the screener ranking: it opens positions entering the top lists, closes
// positions leaving them and watches worker process health.
package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lsquant/twapbot/internal/alerting"
	"github.com/lsquant/twapbot/internal/assetmap"
	"github.com/lsquant/twapbot/internal/bus"
	"github.com/lsquant/twapbot/internal/margin"
	"github.com/lsquant/twapbot/internal/metrics"
	"github.com/lsquant/twapbot/internal/persistence"
	"github.com/lsquant/twapbot/internal/types"
	"github.com/lsquant/twapbot/internal/venue"
)

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Resolver  *margin.Resolver
	Assets    *assetmap.Map
	Lifecycle venue.Lifecycle
	Signals   bus.Publisher
	Alerter   alerting.Alerter       // optional
	Repo      persistence.Repository // optional worker journal
	Logger    *slog.Logger
	Recorder  *metrics.Recorder

	// AlertEvents reports whether an event should be notified.
	// A nil filter enables every event.
	AlertEvents func(alerting.AlertEvent) bool
}

// Orchestrator keeps the deployed worker fleet aligned with the ranking.
type Orchestrator struct {
	cfg         Config
	resolver    *margin.Resolver
	assets      *assetmap.Map
	lifecycle   venue.Lifecycle
	signals     bus.Publisher
	alerter     alerting.Alerter
	alertEvents func(alerting.AlertEvent) bool
	repo        persistence.Repository
	logger      *slog.Logger
	rec         *metrics.Recorder
	now         func() time.Time

	mu      sync.Mutex
	workers map[string]*Worker // keyed by instance ID

	wg sync.WaitGroup // unwind monitors
}

// New creates a fleet orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("%w: margin resolver is required", types.ErrInvalidConfig)
	}
	if deps.Assets == nil {
		return nil, fmt.Errorf("%w: asset map is required", types.ErrInvalidConfig)
	}
	if deps.Lifecycle == nil {
		return nil, fmt.Errorf("%w: worker lifecycle is required", types.ErrInvalidConfig)
	}
	if deps.Signals == nil {
		return nil, fmt.Errorf("%w: signal publisher is required", types.ErrInvalidConfig)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := deps.Recorder
	if rec == nil {
		rec = metrics.NewRecorder()
	}

	return &Orchestrator{
		cfg:         cfg,
		resolver:    deps.Resolver,
		assets:      deps.Assets,
		lifecycle:   deps.Lifecycle,
		signals:     deps.Signals,
		alerter:     deps.Alerter,
		alertEvents: deps.AlertEvents,
		repo:        deps.Repo,
		logger:      logger.With("component", "fleet"),
		rec:         rec,
		now:         time.Now,
		workers:     make(map[string]*Worker),
	}, nil
}

// Rebalance aligns the fleet with one ranking snapshot. Closes run first,
// then opens, each batch concurrently. Individual failures are counted and
// reported but never abort the other actions.
func (o *Orchestrator) Rebalance(ctx context.Context, snapshot types.RankingSnapshot) error {
	timer := metrics.NewTimer()
	o.rec.RecordRankingSnapshot()

	targetLongs := o.mappable(truncate(snapshot.TopLongs, o.cfg.TopLongs))
	targetShorts := o.mappable(truncate(snapshot.TopShorts, o.cfg.TopShorts))
	monitorLongs := toSet(truncate(snapshot.MonitorLongs, o.cfg.MonitorLongs))
	monitorShorts := toSet(truncate(snapshot.MonitorShorts, o.cfg.MonitorShorts))

	// Per-slot notional divides by the configured list size, not by how
	// many slots this snapshot fills. A thin snapshot must not inflate
	// individual positions.
	two := decimal.NewFromInt(2)
	perLong, perShort := decimal.Zero, decimal.Zero
	if n := o.cfg.TopLongs; n > 0 {
		perLong = o.cfg.TotalCapital.Div(two).Div(decimal.NewFromInt(int64(n)))
	}
	if n := o.cfg.TopShorts; n > 0 {
		perShort = o.cfg.TotalCapital.Div(two).Div(decimal.NewFromInt(int64(n)))
	}

	targetLongSet := toSet(targetLongs)
	targetShortSet := toSet(targetShorts)

	o.mu.Lock()
	currentLongs := make(map[string]*Worker)
	currentShorts := make(map[string]*Worker)
	for _, w := range o.workers {
		if !w.Status.IsActive() || w.Status == types.WorkerUnwinding {
			continue
		}
		if w.Side == types.SideLong {
			currentLongs[w.Asset] = w
		} else {
			currentShorts[w.Asset] = w
		}
	}

	var closes []*Worker
	summary := alerting.RebalanceSummary{
		Timestamp:        o.now(),
		NotionalPerLong:  perLong,
		NotionalPerShort: perShort,
	}

	for asset, w := range currentLongs {
		if targetLongSet[asset] {
			continue
		}
		if o.cfg.SmartClose && monitorLongs[asset] {
			summary.RetainedLongs = append(summary.RetainedLongs, asset)
			continue
		}
		closes = append(closes, w)
	}
	for asset, w := range currentShorts {
		if targetShortSet[asset] {
			continue
		}
		if o.cfg.SmartClose && monitorShorts[asset] {
			summary.RetainedShorts = append(summary.RetainedShorts, asset)
			continue
		}
		closes = append(closes, w)
	}

	var opensLong, opensShort []string
	for _, asset := range targetLongs {
		if _, held := currentLongs[asset]; !held {
			opensLong = append(opensLong, asset)
		}
	}
	for _, asset := range targetShorts {
		if _, held := currentShorts[asset]; !held {
			opensShort = append(opensShort, asset)
		}
	}
	o.mu.Unlock()

	var summaryMu sync.Mutex

	// Free margin first: closes before opens.
	var closeWG sync.WaitGroup
	for _, w := range closes {
		closeWG.Add(1)
		go func(w *Worker) {
			defer closeWG.Done()
			closed, err := o.close(ctx, w.Asset, w.Side)

			summaryMu.Lock()
			defer summaryMu.Unlock()
			if err != nil {
				summary.FailedActions++
				o.rec.RecordActionFailure("close")
				o.logger.Error("close failed", "asset", w.Asset, "side", w.Side, "err", err)
				return
			}
			if closed {
				if w.Side == types.SideLong {
					summary.ClosedLongs = append(summary.ClosedLongs, w.Asset)
				} else {
					summary.ClosedShorts = append(summary.ClosedShorts, w.Asset)
				}
			}
		}(w)
	}
	closeWG.Wait()

	var openWG sync.WaitGroup
	openOne := func(asset string, side types.Side, notional decimal.Decimal) {
		defer openWG.Done()
		opened, err := o.open(ctx, asset, side, notional)

		summaryMu.Lock()
		defer summaryMu.Unlock()
		if err != nil {
			summary.FailedActions++
			o.rec.RecordActionFailure("open")
			o.logger.Error("open failed", "asset", asset, "side", side, "err", err)
			return
		}
		if opened {
			if side == types.SideLong {
				summary.OpenedLongs = append(summary.OpenedLongs, asset)
			} else {
				summary.OpenedShorts = append(summary.OpenedShorts, asset)
			}
		}
	}
	for _, asset := range opensLong {
		openWG.Add(1)
		go openOne(asset, types.SideLong, perLong)
	}
	for _, asset := range opensShort {
		openWG.Add(1)
		go openOne(asset, types.SideShort, perShort)
	}
	openWG.Wait()

	sort.Strings(summary.OpenedLongs)
	sort.Strings(summary.OpenedShorts)
	sort.Strings(summary.ClosedLongs)
	sort.Strings(summary.ClosedShorts)
	sort.Strings(summary.RetainedLongs)
	sort.Strings(summary.RetainedShorts)

	if !summary.IsEmpty() {
		o.alert(ctx, alerting.EventRebalance, summary.Format())
	}

	o.rec.RecordRebalance(timer.Elapsed())
	o.updateWorkerGauges()
	o.journalRebalance(ctx, summary, timer.Elapsed())

	o.logger.Info("rebalance complete",
		"opened", len(summary.OpenedLongs)+len(summary.OpenedShorts),
		"closed", len(summary.ClosedLongs)+len(summary.ClosedShorts),
		"retained", len(summary.RetainedLongs)+len(summary.RetainedShorts),
		"failed", summary.FailedActions,
		"duration", timer.Elapsed(),
	)
	return nil
}

// OpenPosition deploys a worker for one (asset, side) position. Opening an
// already-held position is a no-op.
func (o *Orchestrator) OpenPosition(ctx context.Context, asset string, side types.Side, notional decimal.Decimal) error {
	_, err := o.open(ctx, asset, side, notional)
	return err
}

// ClosePosition requests a graceful exit for one (asset, side) position and
// watches the worker until it can be archived. Closing an absent or
// already-unwinding position is a no-op.
func (o *Orchestrator) ClosePosition(ctx context.Context, asset string, side types.Side) error {
	_, err := o.close(ctx, asset, side)
	return err
}

func (o *Orchestrator) open(ctx context.Context, asset string, side types.Side, notional decimal.Decimal) (bool, error) {
	venueSymbol, ok := o.assets.ToVenue(asset)
	if !ok {
		return false, fmt.Errorf("%w: %s", types.ErrUnknownAsset, asset)
	}

	o.mu.Lock()
	if w := o.findActive(asset, side); w != nil {
		o.mu.Unlock()
		o.logger.Debug("position already open", "asset", asset, "side", side, "instance_id", w.InstanceID)
		return false, nil
	}
	// A dead worker for the same position is superseded by the new one.
	var stale []string
	for id, w := range o.workers {
		if w.Asset == asset && w.Side == side && w.Status == types.WorkerStopped {
			delete(o.workers, id)
			stale = append(stale, id)
		}
	}
	o.mu.Unlock()
	for _, id := range stale {
		o.journalDelete(ctx, id)
	}

	leverage := o.resolveLeverage(venueSymbol, notional)
	if o.cfg.MinLeverage > 0 && leverage < o.cfg.MinLeverage {
		o.logger.Info("asset below leverage floor, skipped",
			"asset", asset, "leverage", leverage, "floor", o.cfg.MinLeverage)
		return false, nil
	}

	instanceID := uuid.NewString()
	wcfg := venue.WorkerConfig{
		Asset:          venueSymbol,
		Side:           side,
		TargetNotional: notional,
		BatchNotional:  o.cfg.BatchNotional,
		MinNotional:    o.cfg.MinNotional,
		BatchInterval:  o.cfg.BatchInterval,
		HoldDuration:   o.cfg.HoldDuration,
		Leverage:       leverage,
		ControlTopic:   o.topicFor(venueSymbol),
	}

	err := o.withRetry(ctx, "deploy", func() error {
		return o.lifecycle.Deploy(ctx, instanceID, wcfg)
	})
	if err != nil {
		return false, err
	}

	w := &Worker{
		InstanceID:  instanceID,
		Asset:       asset,
		VenueSymbol: venueSymbol,
		Side:        side,
		Notional:    notional,
		Leverage:    leverage,
		Status:      types.WorkerLaunching,
		LaunchedAt:  o.now(),
	}

	o.mu.Lock()
	o.workers[instanceID] = w
	o.mu.Unlock()

	o.journalSave(ctx, w)
	o.rec.RecordPositionOpened(side.String())
	o.logger.Info("position opened",
		"asset", asset,
		"venue_symbol", venueSymbol,
		"side", side,
		"notional", notional,
		"leverage", leverage,
		"instance_id", instanceID,
	)
	o.alert(ctx, alerting.EventPositionOpened,
		fmt.Sprintf("Opened %s %s", side, asset),
		"notional", notional.StringFixed(2),
		"leverage", leverage,
	)
	return true, nil
}

func (o *Orchestrator) close(ctx context.Context, asset string, side types.Side) (bool, error) {
	o.mu.Lock()
	w := o.findActive(asset, side)
	if w == nil || w.Status == types.WorkerUnwinding {
		o.mu.Unlock()
		return false, nil
	}
	w.Status = types.WorkerUnwinding
	o.mu.Unlock()

	o.signals.Publish(o.topicFor(w.VenueSymbol), types.ControlSignal{Action: types.SignalStartExit})
	o.journalStatus(ctx, w.InstanceID, types.WorkerUnwinding)
	o.rec.RecordPositionClosed(side.String())
	o.logger.Info("position close requested",
		"asset", asset, "side", side, "instance_id", w.InstanceID)

	o.wg.Add(1)
	go func(instanceID string) {
		defer o.wg.Done()
		o.monitorAndArchive(instanceID)
	}(w.InstanceID)

	return true, nil
}

// monitorAndArchive polls a worker until its clock stops, then archives it.
// A worker that never stops within the monitor timeout is archived anyway.
func (o *Orchestrator) monitorAndArchive(instanceID string) {
	deadline := time.NewTimer(o.cfg.MonitorTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.cfg.MonitorPollInterval)
	defer ticker.Stop()

poll:
	for {
		probe, err := o.lifecycle.Status(context.Background(), instanceID)
		switch {
		case err != nil:
			o.logger.Warn("worker status probe failed", "instance_id", instanceID, "err", err)
		case !probe.Running || probe.ClockStopped:
			break poll
		}

		select {
		case <-deadline.C:
			o.logger.Warn("unwind watch timed out, archiving anyway", "instance_id", instanceID)
			break poll
		case <-ticker.C:
		}
	}

	o.archiveWorker(context.Background(), instanceID)
}

func (o *Orchestrator) archiveWorker(ctx context.Context, instanceID string) {
	err := o.withRetry(ctx, "archive", func() error {
		return o.lifecycle.Archive(ctx, instanceID)
	})
	if err != nil {
		o.rec.RecordActionFailure("archive")
		o.logger.Error("archive failed", "instance_id", instanceID, "err", err)
		return
	}

	o.mu.Lock()
	delete(o.workers, instanceID)
	o.mu.Unlock()

	o.journalDelete(ctx, instanceID)
	o.updateWorkerGauges()
	o.logger.Info("worker archived", "instance_id", instanceID)
}

// HealthCheck probes every worker outside its startup cooldown and returns
// the fleet health snapshot. A worker found dead outside an unwind is
// flagged once and alerted.
func (o *Orchestrator) HealthCheck(ctx context.Context) []types.WorkerHealth {
	o.rec.RecordHeartbeat()
	now := o.now()

	o.mu.Lock()
	snapshot := make([]*Worker, 0, len(o.workers))
	for _, w := range o.workers {
		snapshot = append(snapshot, w)
	}
	o.mu.Unlock()

	rows := make([]types.WorkerHealth, 0, len(snapshot))
	for _, w := range snapshot {
		o.mu.Lock()
		skipProbe := w.Status == types.WorkerUnwinding ||
			w.UnexpectedStop ||
			now.Sub(w.LaunchedAt) < o.cfg.StartupCooldown
		o.mu.Unlock()

		if skipProbe {
			o.mu.Lock()
			rows = append(rows, w.health(now, o.cfg.StartupCooldown))
			o.mu.Unlock()
			continue
		}

		probe, err := o.lifecycle.Status(ctx, w.InstanceID)
		if err != nil {
			o.logger.Warn("health probe failed", "instance_id", w.InstanceID, "err", err)
			o.mu.Lock()
			rows = append(rows, w.health(now, o.cfg.StartupCooldown))
			o.mu.Unlock()
			continue
		}

		o.mu.Lock()
		if probe.Running {
			if w.Status == types.WorkerLaunching {
				w.Status = types.WorkerRunning
				o.mu.Unlock()
				o.journalStatus(ctx, w.InstanceID, types.WorkerRunning)
				o.mu.Lock()
			}
		} else if !w.UnexpectedStop {
			w.UnexpectedStop = true
			w.Status = types.WorkerStopped
			o.mu.Unlock()
			o.rec.RecordStoppedUnexpectedly()
			o.journalStatus(ctx, w.InstanceID, types.WorkerStopped)
			o.alert(ctx, alerting.EventWorkerStopped,
				fmt.Sprintf("Worker %s %s stopped unexpectedly", w.Asset, w.Side),
				"instance_id", w.InstanceID,
			)
			o.logger.Error("worker stopped unexpectedly",
				"asset", w.Asset, "side", w.Side, "instance_id", w.InstanceID)
			o.mu.Lock()
		}
		rows = append(rows, w.health(now, o.cfg.StartupCooldown))
		o.mu.Unlock()
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Asset < rows[j].Asset })
	o.updateWorkerGauges()
	return rows
}

// Snapshot returns the cached fleet health without probing the venue.
func (o *Orchestrator) Snapshot() []types.WorkerHealth {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	rows := make([]types.WorkerHealth, 0, len(o.workers))
	for _, w := range o.workers {
		rows = append(rows, w.health(now, o.cfg.StartupCooldown))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Asset < rows[j].Asset })
	return rows
}

// UnwindAll requests an exit for every live worker and drains the fleet.
// Workers still alive at the unwind timeout are archived anyway and the
// timeout is reported.
func (o *Orchestrator) UnwindAll(ctx context.Context) error {
	o.mu.Lock()
	var targets, dead []*Worker
	for _, w := range o.workers {
		switch w.Status {
		case types.WorkerLaunching, types.WorkerRunning:
			w.Status = types.WorkerUnwinding
			targets = append(targets, w)
		case types.WorkerStopped:
			dead = append(dead, w)
		}
	}
	o.mu.Unlock()

	// Already-dead workers have nothing to exit; archive them directly so
	// the drain leaves no record behind.
	for _, w := range dead {
		o.archiveWorker(ctx, w.InstanceID)
	}

	if len(targets) == 0 {
		return nil
	}

	o.logger.Info("bulk unwind started", "count", len(targets))
	o.alert(ctx, alerting.EventUnwindStarted, fmt.Sprintf("Unwinding %d positions", len(targets)))

	remaining := make(map[string]bool, len(targets))
	for _, w := range targets {
		o.signals.Publish(o.topicFor(w.VenueSymbol), types.ControlSignal{Action: types.SignalStartExit})
		o.journalStatus(ctx, w.InstanceID, types.WorkerUnwinding)
		remaining[w.InstanceID] = true
	}

	timeout := time.NewTimer(o.cfg.UnwindTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(o.cfg.MonitorPollInterval)
	defer ticker.Stop()

	for {
		for id := range remaining {
			probe, err := o.lifecycle.Status(ctx, id)
			if err != nil {
				o.logger.Warn("unwind status probe failed", "instance_id", id, "err", err)
				continue
			}
			if !probe.Running || probe.ClockStopped {
				o.archiveWorker(ctx, id)
				delete(remaining, id)
			}
		}
		if len(remaining) == 0 {
			o.logger.Info("bulk unwind complete")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			o.logger.Warn("bulk unwind timed out, force archiving", "remaining", len(remaining))
			for id := range remaining {
				o.archiveWorker(ctx, id)
			}
			return fmt.Errorf("%w: %d workers still running", types.ErrUnwindTimeout, len(remaining))
		case <-ticker.C:
		}
	}
}

// Adopt loads journaled workers from a previous run into the fleet.
// Workers that were mid-unwind get their watch goroutine respawned.
func (o *Orchestrator) Adopt(ctx context.Context) error {
	if o.repo == nil {
		return nil
	}

	records, err := o.repo.ActiveWorkers(ctx)
	if err != nil {
		return fmt.Errorf("load worker journal: %w", err)
	}

	o.mu.Lock()
	for _, rec := range records {
		o.workers[rec.InstanceID] = &Worker{
			InstanceID:  rec.InstanceID,
			Asset:       rec.Asset,
			VenueSymbol: rec.VenueSymbol,
			Side:        rec.Side,
			Notional:    rec.Notional,
			Leverage:    rec.Leverage,
			Status:      rec.Status,
			LaunchedAt:  rec.LaunchedAt,
		}
	}
	o.mu.Unlock()

	for _, rec := range records {
		if rec.Status == types.WorkerUnwinding {
			o.wg.Add(1)
			go func(instanceID string) {
				defer o.wg.Done()
				o.monitorAndArchive(instanceID)
			}(rec.InstanceID)
		}
	}

	if len(records) > 0 {
		o.logger.Info("adopted workers from journal", "count", len(records))
	}
	o.updateWorkerGauges()
	return nil
}

// ActiveCount returns the number of workers still in the active set.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, w := range o.workers {
		if w.Status.IsActive() {
			n++
		}
	}
	return n
}

// Wait blocks until all unwind monitors have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// withRetry runs fn up to the configured attempt count with a fixed delay.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		o.logger.Warn("operation failed",
			"operation", op, "attempt", attempt, "err", lastErr)

		if attempt < o.cfg.RetryAttempts {
			o.rec.RecordRetry(op)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.RetryDelay):
			}
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v",
		types.ErrRetriesExhausted, op, o.cfg.RetryAttempts, lastErr)
}

// findActive returns the live worker for (asset, side), if any.
// Callers hold o.mu.
func (o *Orchestrator) findActive(asset string, side types.Side) *Worker {
	for _, w := range o.workers {
		if w.Asset == asset && w.Side == side && w.Status.IsActive() {
			return w
		}
	}
	return nil
}

func (o *Orchestrator) resolveLeverage(venueSymbol string, notional decimal.Decimal) int {
	leverage, ok := o.resolver.OptimalLeverage(venueSymbol, notional, o.cfg.RiskFactor, o.cfg.Network)
	if !ok {
		leverage = o.cfg.DefaultLeverage
	}
	if o.cfg.MaxLeverage > 0 && leverage > o.cfg.MaxLeverage {
		leverage = o.cfg.MaxLeverage
	}
	return leverage
}

func (o *Orchestrator) topicFor(venueSymbol string) string {
	return o.cfg.ControlTopicPrefix + "/" + venueSymbol
}

// mappable filters feed symbols down to those with a venue counterpart.
func (o *Orchestrator) mappable(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := o.assets.ToVenue(s); ok {
			out = append(out, s)
		} else {
			o.logger.Debug("feed symbol has no venue mapping, skipped", "symbol", s)
		}
	}
	return out
}

func (o *Orchestrator) alert(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if o.alerter == nil {
		return
	}
	if o.alertEvents != nil && !o.alertEvents(event) {
		return
	}
	// Notifications are best effort; a failed send never blocks trading.
	if err := o.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		o.logger.Warn("alert failed", "event", string(event), "err", err)
	}
}

func (o *Orchestrator) updateWorkerGauges() {
	counts := make(map[types.WorkerStatus]int)
	o.mu.Lock()
	for _, w := range o.workers {
		counts[w.Status]++
	}
	o.mu.Unlock()

	for _, status := range []types.WorkerStatus{
		types.WorkerLaunching,
		types.WorkerRunning,
		types.WorkerUnwinding,
		types.WorkerStopped,
	} {
		o.rec.RecordWorkerCount(status.String(), counts[status])
	}
}

func (o *Orchestrator) journalSave(ctx context.Context, w *Worker) {
	if o.repo == nil {
		return
	}
	rec := persistence.WorkerRecord{
		InstanceID:  w.InstanceID,
		Asset:       w.Asset,
		VenueSymbol: w.VenueSymbol,
		Side:        w.Side,
		Notional:    w.Notional,
		Leverage:    w.Leverage,
		Status:      w.Status,
		LaunchedAt:  w.LaunchedAt,
	}
	if err := o.repo.SaveWorker(ctx, rec); err != nil {
		o.logger.Warn("journal worker failed", "instance_id", w.InstanceID, "err", err)
	}
}

func (o *Orchestrator) journalStatus(ctx context.Context, instanceID string, status types.WorkerStatus) {
	if o.repo == nil {
		return
	}
	if err := o.repo.UpdateWorkerStatus(ctx, instanceID, status); err != nil {
		o.logger.Warn("journal status failed", "instance_id", instanceID, "err", err)
	}
}

func (o *Orchestrator) journalDelete(ctx context.Context, instanceID string) {
	if o.repo == nil {
		return
	}
	if err := o.repo.DeleteWorker(ctx, instanceID); err != nil {
		o.logger.Warn("journal delete failed", "instance_id", instanceID, "err", err)
	}
}

func (o *Orchestrator) journalRebalance(ctx context.Context, summary alerting.RebalanceSummary, duration time.Duration) {
	if o.repo == nil {
		return
	}
	rec := persistence.RebalanceRecord{
		Timestamp:        summary.Timestamp,
		OpenedCount:      len(summary.OpenedLongs) + len(summary.OpenedShorts),
		ClosedCount:      len(summary.ClosedLongs) + len(summary.ClosedShorts),
		RetainedCount:    len(summary.RetainedLongs) + len(summary.RetainedShorts),
		FailedCount:      summary.FailedActions,
		NotionalPerLong:  summary.NotionalPerLong,
		NotionalPerShort: summary.NotionalPerShort,
		Duration:         duration,
	}
	if err := o.repo.SaveRebalance(ctx, rec); err != nil {
		o.logger.Warn("journal rebalance failed", "err", err)
	}
}

func truncate(symbols []string, n int) []string {
	if n > 0 && len(symbols) > n {
		return symbols[:n]
	}
	return symbols
}

func toSet(symbols []string) map[string]bool {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return set
}

package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/lsquant/twapbot/internal/bus"
	"github.com/lsquant/twapbot/internal/types"
)

// Runner hosts one controller: it pumps the periodic tick and feeds control
// signals from the bus topic into the state machine.
type Runner struct {
	ctrl      *Controller
	signals   <-chan types.ControlSignal
	cancelSub func()
	tickEvery time.Duration
	logger    *slog.Logger
}

// NewRunner subscribes the controller to its control topic.
func NewRunner(ctrl *Controller, sub bus.Subscriber, topic string, tickEvery time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	signals, cancel := sub.Subscribe(topic)

	return &Runner{
		ctrl:      ctrl,
		signals:   signals,
		cancelSub: cancel,
		tickEvery: tickEvery,
		logger:    logger.With("topic", topic),
	}
}

// Run loops until the controller reaches a terminal state or the context
// is cancelled. Signal rejections are logged, never fatal.
func (r *Runner) Run(ctx context.Context) error {
	defer r.cancelSub()

	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-r.signals:
			if !ok {
				return nil
			}
			if err := r.ctrl.HandleSignal(sig); err != nil {
				r.logger.Warn("control signal not applied", "action", sig.Action, "err", err)
			}

		case <-ticker.C:
			if err := r.ctrl.Tick(ctx); err != nil {
				r.logger.Error("tick failed", "err", err)
			}
			if r.ctrl.State().IsTerminal() {
				return nil
			}
		}
	}
}

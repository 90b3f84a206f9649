package fleet

import (
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

// Worker is the orchestrator's record of one deployed controller process.
type Worker struct {
	InstanceID  string
	Asset       string // feed symbol
	VenueSymbol string
	Side        types.Side
	Notional    decimal.Decimal
	Leverage    int
	Status      types.WorkerStatus
	LaunchedAt  time.Time

	// UnexpectedStop is set once when a health check finds the process
	// dead outside an unwind, so the alert fires only once.
	UnexpectedStop bool
}

// health renders the worker as one health snapshot row.
func (w *Worker) health(now time.Time, cooldown time.Duration) types.WorkerHealth {
	status := "running"
	switch {
	case w.Status == types.WorkerUnwinding:
		status = "unwinding"
	case w.UnexpectedStop:
		status = "stopped_unexpectedly"
	case w.Status == types.WorkerStopped:
		status = "stopped"
	case now.Sub(w.LaunchedAt) < cooldown:
		status = "starting"
	}

	return types.WorkerHealth{
		InstanceID: w.InstanceID,
		Asset:      w.Asset,
		Side:       w.Side,
		Status:     status,
		Since:      w.LaunchedAt,
	}
}

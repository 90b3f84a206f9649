// Package venue defines the contracts the execution core consumes from the
// trading venue: price queries, fill accounting, batch order placement and
// the worker-process lifecycle. The core depends on these interfaces only,
// never on a concrete venue client.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

// Common venue errors.
var (
	ErrBatchRejected = errors.New("batch rejected by venue")
	ErrWorkerUnknown = errors.New("unknown worker instance")
)

// MarketData provides last-observed price snapshots. Prices may be stale or
// zero; callers guard against non-positive values.
type MarketData interface {
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FillFeed reports the signed cumulative fill flow for one position:
// quote-asset flow and net base-asset balance.
type FillFeed interface {
	FilledBalances(ctx context.Context, symbol string) (types.Balances, error)
}

// BatchOrder is one bounded slice of a larger position.
type BatchOrder struct {
	Symbol     string
	Side       types.Side
	BaseAmount decimal.Decimal
	LimitPrice decimal.Decimal // zero means market execution
	LevelID    string          // correlates venue fills with controller bookkeeping
}

// BatchExecution is the venue's handle for one submitted batch.
type BatchExecution interface {
	IsActive() bool
	IsDone() bool
	CloseReason() string
	FilledBase() decimal.Decimal
	LevelID() string
}

// OrderEngine places batch orders. Per-order retry behavior is the engine's
// concern, not the caller's.
type OrderEngine interface {
	SubmitBatch(ctx context.Context, order BatchOrder) (BatchExecution, error)
}

// Trading is the capability set a batch execution controller needs.
type Trading interface {
	MarketData
	FillFeed
	OrderEngine
}

// Instruments lists the symbols tradeable on the venue.
type Instruments interface {
	Symbols(ctx context.Context) ([]string, error)
}

// WorkerConfig is the deployment configuration for one controller host.
type WorkerConfig struct {
	Asset          string // venue symbol
	Side           types.Side
	TargetNotional decimal.Decimal
	BatchNotional  decimal.Decimal
	MinNotional    decimal.Decimal
	BatchInterval  time.Duration
	HoldDuration   time.Duration
	Leverage       int
	ControlTopic   string
}

// Probe is one status observation of a deployed worker process.
type Probe struct {
	Running      bool
	ClockStopped bool // the host reported a clean clock stop
}

// Lifecycle deploys, inspects and archives worker processes.
type Lifecycle interface {
	Deploy(ctx context.Context, instanceID string, cfg WorkerConfig) error
	Status(ctx context.Context, instanceID string) (Probe, error)
	Archive(ctx context.Context, instanceID string) error
}

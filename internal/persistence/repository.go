// Package persistence provides the worker journal used for crash recovery.
package persistence

import (
	"context"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

// Repository defines the interface for the worker journal.
type Repository interface {
	// Worker journal operations
	SaveWorker(ctx context.Context, record WorkerRecord) error
	UpdateWorkerStatus(ctx context.Context, instanceID string, status types.WorkerStatus) error
	DeleteWorker(ctx context.Context, instanceID string) error
	ActiveWorkers(ctx context.Context) ([]WorkerRecord, error)

	// Rebalance history
	SaveRebalance(ctx context.Context, record RebalanceRecord) error

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// WorkerRecord is one journaled worker deployment. The journal is the
// source of truth for which workers to adopt after a restart.
type WorkerRecord struct {
	InstanceID  string
	Asset       string // feed symbol
	VenueSymbol string
	Side        types.Side
	Notional    decimal.Decimal
	Leverage    int
	Status      types.WorkerStatus
	LaunchedAt  time.Time
	UpdatedAt   time.Time
}

// RebalanceRecord summarizes one completed rebalance for the audit trail.
type RebalanceRecord struct {
	ID               int64
	Timestamp        time.Time
	OpenedCount      int
	ClosedCount      int
	RetainedCount    int
	FailedCount      int
	NotionalPerLong  decimal.Decimal
	NotionalPerShort decimal.Decimal
	Duration         time.Duration
}

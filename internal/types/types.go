// Package types defines shared types used across the trading system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// Phase identifies which half of the position lifecycle a batch belongs to.
type Phase int

const (
	PhaseEntry Phase = iota
	PhaseExit
)

func (p Phase) String() string {
	switch p {
	case PhaseExit:
		return "exit"
	default:
		return "entry"
	}
}

// ControllerState represents the state of a batch execution controller.
type ControllerState int

const (
	StateIdle ControllerState = iota
	StateEntering
	StateHolding
	StateExiting
	StateCompleted
	StateError
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateEntering:
		return "ENTERING"
	case StateHolding:
		return "HOLDING"
	case StateExiting:
		return "EXITING"
	case StateCompleted:
		return "COMPLETED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true if the controller can never leave this state.
func (s ControllerState) IsTerminal() bool {
	return s == StateCompleted || s == StateError
}

// WorkerStatus represents the orchestrator's view of a worker process.
type WorkerStatus int

const (
	WorkerLaunching WorkerStatus = iota
	WorkerRunning
	WorkerUnwinding
	WorkerStopped
	WorkerArchived
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerLaunching:
		return "LAUNCHING"
	case WorkerRunning:
		return "RUNNING"
	case WorkerUnwinding:
		return "UNWINDING"
	case WorkerStopped:
		return "STOPPED"
	case WorkerArchived:
		return "ARCHIVED"
	default:
		return "UNKNOWN"
	}
}

// IsActive returns true while the worker still belongs in the active set.
func (s WorkerStatus) IsActive() bool {
	switch s {
	case WorkerLaunching, WorkerRunning, WorkerUnwinding:
		return true
	default:
		return false
	}
}

// SignalAction is the closed set of control-signal actions a controller accepts.
type SignalAction int

const (
	SignalStartEntry SignalAction = iota
	SignalStartExit
	SignalIncreaseTarget
)

func (a SignalAction) String() string {
	switch a {
	case SignalStartEntry:
		return "start_entry"
	case SignalStartExit:
		return "start_exit"
	case SignalIncreaseTarget:
		return "increase_target"
	default:
		return "unknown"
	}
}

// ControlSignal is a message on the per-position control channel.
// Value is only meaningful for SignalIncreaseTarget (the new target notional).
type ControlSignal struct {
	Action SignalAction
	Value  decimal.Decimal
}

// RankingSnapshot is one refresh of the screener ranking. The monitor lists
// are wider supersets of the top lists, used as hysteresis buffers.
// Snapshots are consumed once and never mutated.
type RankingSnapshot struct {
	TopLongs      []string
	TopShorts     []string
	MonitorLongs  []string
	MonitorShorts []string
	Timestamp     time.Time
}

// Balances is the signed cumulative fill flow reported by the venue for
// one position: quote-asset flow and net base-asset balance.
type Balances struct {
	Quote decimal.Decimal
	Base  decimal.Decimal
}

// ControllerStatus is a pull-based snapshot of one controller's progress.
type ControllerStatus struct {
	State                 ControllerState
	Side                  Side
	TargetNotional        decimal.Decimal
	EntryBatchesPlanned   int
	EntryBatchesCompleted int
	ExitBatchesPlanned    int
	ExitBatchesCompleted  int
	FilledEntryQuote      decimal.Decimal
	FilledExitBase        decimal.Decimal
	PositionBase          decimal.Decimal
	AvgEntryPrice         decimal.Decimal
}

// WorkerHealth is one row of the orchestrator's health snapshot.
type WorkerHealth struct {
	InstanceID string
	Asset      string
	Side       Side
	Status     string // running | starting | stopped | stopped_unexpectedly | unwinding
	Since      time.Time
}

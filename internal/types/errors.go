package types

import "errors"

// Sentinel errors for the trading system.
var (
	// Controller errors
	ErrSignalRejected = errors.New("control signal rejected in current state")
	ErrExitActive     = errors.New("exit already in progress")

	// Data errors
	ErrInvalidPrice    = errors.New("invalid price value")
	ErrDataUnavailable = errors.New("market data unavailable")

	// Fleet errors
	ErrWorkerNotFound   = errors.New("no matching worker in active set")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrUnwindTimeout    = errors.New("timed out waiting for workers to stop")

	// Asset mapping errors
	ErrUnknownAsset     = errors.New("asset has no mapping entry")
	ErrDuplicateMapping = errors.New("duplicate asset mapping entry")

	// Margin errors
	ErrTierNotFound = errors.New("no margin tier covers notional")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

package fleet

import (
	"fmt"
	"strings"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

// Config holds fleet orchestrator configuration.
type Config struct {
	// Capital allocation. Each side receives half the total; each new
	// position on a side receives the side's share divided by the
	// configured top-list size, even when a snapshot fills fewer slots.
	TotalCapital decimal.Decimal

	// Ranking list sizes. The monitor lists are wider supersets of the
	// top lists used as the smart-close hysteresis buffer.
	TopLongs      int
	TopShorts     int
	MonitorLongs  int
	MonitorShorts int

	// SmartClose retains positions that fell out of the top list but
	// still sit inside the monitor buffer.
	SmartClose bool

	// Leverage policy.
	Network         string
	RiskFactor      decimal.Decimal
	DefaultLeverage int // used when the margin table has no tier for the asset
	MaxLeverage     int // hard cap after resolution; zero disables
	MinLeverage     int // assets resolving below this are skipped; zero disables

	// Worker lifecycle.
	StartupCooldown     time.Duration // health checks report "starting" inside this window
	RetryAttempts       int
	RetryDelay          time.Duration
	MonitorPollInterval time.Duration
	MonitorTimeout      time.Duration // per-worker unwind watch before forced archive
	UnwindTimeout       time.Duration // bulk unwind drain budget

	// Per-worker execution parameters, passed through to deployments.
	BatchNotional decimal.Decimal
	MinNotional   decimal.Decimal
	BatchInterval time.Duration
	HoldDuration  time.Duration

	// ControlTopicPrefix prefixes per-symbol control topics.
	ControlTopicPrefix string
}

// DefaultConfig returns fleet defaults.
func DefaultConfig() Config {
	return Config{
		TopLongs:            10,
		TopShorts:           10,
		MonitorLongs:        15,
		MonitorShorts:       15,
		SmartClose:          true,
		RiskFactor:          decimal.RequireFromString("0.8"),
		DefaultLeverage:     3,
		StartupCooldown:     30 * time.Second,
		RetryAttempts:       5,
		RetryDelay:          2 * time.Second,
		MonitorPollInterval: 5 * time.Second,
		MonitorTimeout:      120 * time.Second,
		UnwindTimeout:       180 * time.Second,
		MinNotional:         decimal.NewFromInt(12),
		BatchNotional:       decimal.NewFromInt(15),
		BatchInterval:       15 * time.Second,
		ControlTopicPrefix:  "control",
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	var errs []string

	if c.TotalCapital.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "total capital must be positive")
	}
	if c.TopLongs < 0 || c.TopShorts < 0 {
		errs = append(errs, "top list sizes must be non-negative")
	}
	if c.TopLongs == 0 && c.TopShorts == 0 {
		errs = append(errs, "at least one top list must be non-empty")
	}
	if c.MonitorLongs < c.TopLongs {
		errs = append(errs, "monitor longs must be at least top longs")
	}
	if c.MonitorShorts < c.TopShorts {
		errs = append(errs, "monitor shorts must be at least top shorts")
	}
	if c.RiskFactor.LessThanOrEqual(decimal.Zero) || c.RiskFactor.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "risk factor must be in (0, 1]")
	}
	if c.DefaultLeverage < 1 {
		errs = append(errs, "default leverage must be at least 1")
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, "retry attempts must be at least 1")
	}
	if c.MonitorPollInterval <= 0 {
		errs = append(errs, "monitor poll interval must be positive")
	}
	if c.MonitorTimeout <= 0 {
		errs = append(errs, "monitor timeout must be positive")
	}
	if c.UnwindTimeout <= 0 {
		errs = append(errs, "unwind timeout must be positive")
	}
	if c.BatchNotional.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "batch notional must be positive")
	}
	if c.MinNotional.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, "min notional must be positive")
	}
	if c.BatchInterval <= 0 {
		errs = append(errs, "batch interval must be positive")
	}
	if c.ControlTopicPrefix == "" {
		errs = append(errs, "control topic prefix is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lsquant/twapbot/internal/execution"
	"github.com/lsquant/twapbot/internal/fleet"
	"github.com/lsquant/twapbot/internal/signalfeed"
	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Fleet       FleetConfig       `yaml:"fleet"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Margin      MarginConfig      `yaml:"margin"`
	Feed        FeedConfig        `yaml:"feed"`
	Venue       VenueConfig       `yaml:"venue"`
	Health      HealthConfig      `yaml:"health"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// FleetConfig holds fleet orchestration settings.
type FleetConfig struct {
	TotalCapital        float64  `yaml:"total_capital"`
	TopLongs            int      `yaml:"top_longs"`
	TopShorts           int      `yaml:"top_shorts"`
	MonitorLongs        int      `yaml:"monitor_longs"`
	MonitorShorts       int      `yaml:"monitor_shorts"`
	SmartClose          bool     `yaml:"smart_close"`
	Network             string   `yaml:"network"`
	RiskFactor          float64  `yaml:"risk_factor"`
	DefaultLeverage     int      `yaml:"default_leverage"`
	MaxLeverage         int      `yaml:"max_leverage"`
	MinLeverage         int      `yaml:"min_leverage"`
	StartupCooldownSec  int      `yaml:"startup_cooldown_sec"`
	RetryAttempts       int      `yaml:"retry_attempts"`
	RetryDelaySec       int      `yaml:"retry_delay_sec"`
	MonitorPollSec      int      `yaml:"monitor_poll_sec"`
	MonitorTimeoutSec   int      `yaml:"monitor_timeout_sec"`
	UnwindTimeoutSec    int      `yaml:"unwind_timeout_sec"`
	ControlTopicPrefix  string   `yaml:"control_topic_prefix"`
	RebalancesPerMinute float64  `yaml:"rebalances_per_minute"`
	AssetBlacklist      []string `yaml:"asset_blacklist"`
}

// ExecutionConfig holds per-worker batch execution settings.
type ExecutionConfig struct {
	BatchNotional    float64 `yaml:"batch_notional"`
	MinNotional      float64 `yaml:"min_notional"`
	BatchIntervalSec int     `yaml:"batch_interval_sec"`
	HoldDurationSec  int     `yaml:"hold_duration_sec"`
	PriceBufferPct   float64 `yaml:"price_buffer_pct"`
	Style            string  `yaml:"style"` // market | limit_maker
}

// MarginConfig holds margin table settings.
type MarginConfig struct {
	TablePath string `yaml:"table_path"` // CSV range table
}

// FeedConfig holds ranking feed settings.
type FeedConfig struct {
	URL                  string `yaml:"url"`
	ReconnectDelaySec    int    `yaml:"reconnect_delay_sec"`
	MaxReconnectDelaySec int    `yaml:"max_reconnect_delay_sec"`
	ReadTimeoutSec       int    `yaml:"read_timeout_sec"`
	Buffer               int    `yaml:"buffer"`
}

// VenueConfig holds venue settings.
type VenueConfig struct {
	Type        string `yaml:"type"` // paper
	FillDelayMs int    `yaml:"fill_delay_ms"`
}

// HealthConfig holds health check settings.
type HealthConfig struct {
	IntervalSec int `yaml:"interval_sec"`
}

// ShutdownConfig holds shutdown settings.
type ShutdownConfig struct {
	TimeoutSec       int  `yaml:"timeout_sec"`
	UnwindOnShutdown bool `yaml:"unwind_on_shutdown"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // sqlite file
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration and fills defaults.
func (c *Config) Validate() error {
	var errs []string

	// Fleet validation
	if c.Fleet.TotalCapital <= 0 {
		errs = append(errs, "fleet.total_capital must be positive")
	}
	if c.Fleet.TopLongs < 0 || c.Fleet.TopShorts < 0 {
		errs = append(errs, "fleet top list sizes must be non-negative")
	}
	if c.Fleet.TopLongs == 0 && c.Fleet.TopShorts == 0 {
		errs = append(errs, "fleet needs at least one non-empty top list")
	}
	if c.Fleet.MonitorLongs == 0 {
		c.Fleet.MonitorLongs = c.Fleet.TopLongs
	}
	if c.Fleet.MonitorShorts == 0 {
		c.Fleet.MonitorShorts = c.Fleet.TopShorts
	}
	if c.Fleet.MonitorLongs < c.Fleet.TopLongs || c.Fleet.MonitorShorts < c.Fleet.TopShorts {
		errs = append(errs, "fleet monitor lists must cover the top lists")
	}
	if c.Fleet.RiskFactor <= 0 || c.Fleet.RiskFactor > 1 {
		errs = append(errs, "fleet.risk_factor must be between 0 and 1")
	}
	if c.Fleet.DefaultLeverage <= 0 {
		c.Fleet.DefaultLeverage = 3 // default
	}
	if c.Fleet.StartupCooldownSec <= 0 {
		c.Fleet.StartupCooldownSec = 30 // default
	}
	if c.Fleet.RetryAttempts <= 0 {
		c.Fleet.RetryAttempts = 5 // default
	}
	if c.Fleet.RetryDelaySec <= 0 {
		c.Fleet.RetryDelaySec = 2 // default
	}
	if c.Fleet.MonitorPollSec <= 0 {
		c.Fleet.MonitorPollSec = 5 // default
	}
	if c.Fleet.MonitorTimeoutSec <= 0 {
		c.Fleet.MonitorTimeoutSec = 120 // default
	}
	if c.Fleet.UnwindTimeoutSec <= 0 {
		c.Fleet.UnwindTimeoutSec = 180 // default
	}
	if c.Fleet.ControlTopicPrefix == "" {
		c.Fleet.ControlTopicPrefix = "control"
	}
	if c.Fleet.RebalancesPerMinute <= 0 {
		c.Fleet.RebalancesPerMinute = 2 // default
	}

	// Execution validation
	if c.Execution.BatchNotional <= 0 {
		errs = append(errs, "execution.batch_notional must be positive")
	}
	if c.Execution.MinNotional <= 0 {
		errs = append(errs, "execution.min_notional must be positive")
	}
	if c.Execution.BatchIntervalSec <= 0 {
		c.Execution.BatchIntervalSec = 15 // default
	}
	if c.Execution.PriceBufferPct < 0 {
		errs = append(errs, "execution.price_buffer_pct must be non-negative")
	}
	switch c.Execution.Style {
	case "":
		c.Execution.Style = "market"
	case "market", "limit_maker":
	default:
		errs = append(errs, "execution.style must be 'market' or 'limit_maker'")
	}

	// Feed validation
	if c.Feed.URL == "" {
		errs = append(errs, "feed.url is required")
	}
	if c.Feed.ReconnectDelaySec <= 0 {
		c.Feed.ReconnectDelaySec = 1 // default
	}
	if c.Feed.MaxReconnectDelaySec <= 0 {
		c.Feed.MaxReconnectDelaySec = 30 // default
	}
	if c.Feed.Buffer <= 0 {
		c.Feed.Buffer = 4 // default
	}

	// Venue validation
	if c.Venue.Type == "" {
		c.Venue.Type = "paper"
	}
	if c.Venue.Type != "paper" {
		errs = append(errs, fmt.Sprintf("venue.type '%s' is not supported", c.Venue.Type))
	}

	// Health validation
	if c.Health.IntervalSec <= 0 {
		c.Health.IntervalSec = 45 // default
	}

	// Shutdown validation
	if c.Shutdown.TimeoutSec <= 0 {
		c.Shutdown.TimeoutSec = 200 // default, must outlast the unwind budget
	}

	// Persistence validation
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		errs = append(errs, "persistence.path is required when persistence is enabled")
	}

	// Alerting validation
	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram needs bot_token and chat_id", i))
				}
			case "console":
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unknown type '%s'", i, ch.Type))
			}
		}
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		c.Metrics.Port = 9090 // default
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// ToFleetConfig converts to fleet.Config.
func (c *Config) ToFleetConfig() fleet.Config {
	return fleet.Config{
		TotalCapital:        decimal.NewFromFloat(c.Fleet.TotalCapital),
		TopLongs:            c.Fleet.TopLongs,
		TopShorts:           c.Fleet.TopShorts,
		MonitorLongs:        c.Fleet.MonitorLongs,
		MonitorShorts:       c.Fleet.MonitorShorts,
		SmartClose:          c.Fleet.SmartClose,
		Network:             c.Fleet.Network,
		RiskFactor:          decimal.NewFromFloat(c.Fleet.RiskFactor),
		DefaultLeverage:     c.Fleet.DefaultLeverage,
		MaxLeverage:         c.Fleet.MaxLeverage,
		MinLeverage:         c.Fleet.MinLeverage,
		StartupCooldown:     time.Duration(c.Fleet.StartupCooldownSec) * time.Second,
		RetryAttempts:       c.Fleet.RetryAttempts,
		RetryDelay:          time.Duration(c.Fleet.RetryDelaySec) * time.Second,
		MonitorPollInterval: time.Duration(c.Fleet.MonitorPollSec) * time.Second,
		MonitorTimeout:      time.Duration(c.Fleet.MonitorTimeoutSec) * time.Second,
		UnwindTimeout:       time.Duration(c.Fleet.UnwindTimeoutSec) * time.Second,
		BatchNotional:       decimal.NewFromFloat(c.Execution.BatchNotional),
		MinNotional:         decimal.NewFromFloat(c.Execution.MinNotional),
		BatchInterval:       time.Duration(c.Execution.BatchIntervalSec) * time.Second,
		HoldDuration:        time.Duration(c.Execution.HoldDurationSec) * time.Second,
		ControlTopicPrefix:  c.Fleet.ControlTopicPrefix,
	}
}

// ToFeedConfig converts to signalfeed.Config.
func (c *Config) ToFeedConfig() signalfeed.Config {
	return signalfeed.Config{
		URL:               c.Feed.URL,
		ReconnectDelay:    time.Duration(c.Feed.ReconnectDelaySec) * time.Second,
		MaxReconnectDelay: time.Duration(c.Feed.MaxReconnectDelaySec) * time.Second,
		ReadTimeout:       time.Duration(c.Feed.ReadTimeoutSec) * time.Second,
		Buffer:            c.Feed.Buffer,
	}
}

// ExecutionStyle returns the batch pricing style.
func (c *Config) ExecutionStyle() execution.Style {
	if c.Execution.Style == "limit_maker" {
		return execution.StyleLimitMaker
	}
	return execution.StyleMarket
}

// PriceBuffer returns the limit price buffer as a decimal fraction.
func (c *Config) PriceBuffer() decimal.Decimal {
	return decimal.NewFromFloat(c.Execution.PriceBufferPct)
}

// HealthInterval returns the fleet health check interval.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Shutdown.TimeoutSec) * time.Second
}

// FillDelay returns the paper venue fill delay.
func (c *Config) FillDelay() time.Duration {
	return time.Duration(c.Venue.FillDelayMs) * time.Millisecond
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}

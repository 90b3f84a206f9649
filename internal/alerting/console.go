package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts into the structured log. It is the default
// channel in paper mode, where no Telegram bot is configured.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a console alerter over the given logger.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("channel", "console")}
}

func (c *ConsoleAlerter) Name() string { return "console" }

// Alert maps the severity onto a log level and records the alert fields as
// log attributes. It never fails.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	level := slog.LevelInfo
	switch severity {
	case SeverityCritical:
		level = slog.LevelError
	case SeverityHigh, SeverityWarning:
		level = slog.LevelWarn
	}

	attrs := append([]any{"severity", severity.String()}, fields...)
	c.logger.Log(ctx, level, message, attrs...)
	return nil
}

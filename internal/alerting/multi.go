package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// MultiAlerter fans one alert out to every configured channel. A failing
// channel never blocks the others; all failures are joined into one error
// tagged with the channel name.
type MultiAlerter struct {
	logger *slog.Logger

	mu       sync.RWMutex
	alerters []Alerter
}

// NewMultiAlerter creates a fan-out over the given channels.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiAlerter{logger: logger, alerters: alerters}
}

func (m *MultiAlerter) Name() string { return "multi" }

// AddAlerter registers another channel.
func (m *MultiAlerter) AddAlerter(alerter Alerter) {
	m.mu.Lock()
	m.alerters = append(m.alerters, alerter)
	m.mu.Unlock()
}

// Alert delivers to every channel concurrently and waits for all of them.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.mu.RLock()
	alerters := make([]Alerter, len(m.alerters))
	copy(alerters, m.alerters)
	m.mu.RUnlock()

	if len(alerters) == 0 {
		return nil
	}

	errCh := make(chan error, len(alerters))
	var wg sync.WaitGroup
	for _, a := range alerters {
		wg.Add(1)
		go func(a Alerter) {
			defer wg.Done()
			if err := a.Alert(ctx, severity, message, fields...); err != nil {
				m.logger.Warn("alert channel failed",
					"channel", a.Name(),
					"severity", severity.String(),
					"err", err,
				)
				errCh <- fmt.Errorf("%s: %w", a.Name(), err)
			}
		}(a)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AlertEvent delivers a domain event at its default severity.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}

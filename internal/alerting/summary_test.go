package alerting

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRebalanceSummary_IsEmpty(t *testing.T) {
	empty := RebalanceSummary{
		Timestamp:      time.Now(),
		RetainedLongs:  []string{"BTCUSDT"}, // retention alone is not a change
		RetainedShorts: []string{"XRPUSDT"},
	}
	if !empty.IsEmpty() {
		t.Error("summary with only retained assets should be empty")
	}

	tests := []struct {
		name   string
		mutate func(*RebalanceSummary)
	}{
		{"opened long", func(s *RebalanceSummary) { s.OpenedLongs = []string{"BTCUSDT"} }},
		{"opened short", func(s *RebalanceSummary) { s.OpenedShorts = []string{"XRPUSDT"} }},
		{"closed long", func(s *RebalanceSummary) { s.ClosedLongs = []string{"ETHUSDT"} }},
		{"closed short", func(s *RebalanceSummary) { s.ClosedShorts = []string{"SOLUSDT"} }},
		{"failed action", func(s *RebalanceSummary) { s.FailedActions = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := RebalanceSummary{Timestamp: time.Now()}
			tt.mutate(&s)
			if s.IsEmpty() {
				t.Error("summary with an action should not be empty")
			}
		})
	}
}

func TestRebalanceSummary_Format(t *testing.T) {
	s := RebalanceSummary{
		Timestamp:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		OpenedLongs:     []string{"BTCUSDT", "ETHUSDT"},
		ClosedShorts:    []string{"DOGEUSDT"},
		RetainedLongs:   []string{"SOLUSDT"},
		NotionalPerLong: decimal.RequireFromString("100"),
	}

	text := s.Format()

	for _, want := range []string{
		"Opened long: BTCUSDT, ETHUSDT",
		"Closed short: DOGEUSDT",
		"Retained long (buffer): SOLUSDT",
		"Notional per long: $100.00",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Format() missing %q in:\n%s", want, text)
		}
	}

	// Sections with no entries are omitted.
	for _, absent := range []string{"Opened short", "Closed long", "Failed actions", "Notional per short"} {
		if strings.Contains(text, absent) {
			t.Errorf("Format() should omit %q, got:\n%s", absent, text)
		}
	}
}

func TestRebalanceSummary_FormatFailedActions(t *testing.T) {
	s := RebalanceSummary{
		Timestamp:     time.Now(),
		ClosedLongs:   []string{"ETHUSDT"},
		FailedActions: 2,
	}

	if !strings.Contains(s.Format(), "Failed actions: 2") {
		t.Errorf("Format() missing failed action count:\n%s", s.Format())
	}
}

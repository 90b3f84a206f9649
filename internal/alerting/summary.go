package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RebalanceSummary describes the changes one rebalance requested. It is
// built only when the union of the four action sets is non-empty.
type RebalanceSummary struct {
	Timestamp        time.Time
	OpenedLongs      []string
	OpenedShorts     []string
	ClosedLongs      []string
	ClosedShorts     []string
	RetainedLongs    []string // kept by the smart-close buffer
	RetainedShorts   []string
	NotionalPerLong  decimal.Decimal
	NotionalPerShort decimal.Decimal
	FailedActions    int
}

// IsEmpty reports whether the rebalance requested no changes. Failed
// actions count as changes; a rebalance where every action failed still
// deserves a notification.
func (s RebalanceSummary) IsEmpty() bool {
	return len(s.OpenedLongs) == 0 && len(s.OpenedShorts) == 0 &&
		len(s.ClosedLongs) == 0 && len(s.ClosedShorts) == 0 &&
		s.FailedActions == 0
}

// Format renders the summary as a plain-text notification body.
func (s RebalanceSummary) Format() string {
	var b strings.Builder

	b.WriteString("Rebalance " + s.Timestamp.Format("2006-01-02 15:04:05 MST"))

	writeSet := func(label string, symbols []string) {
		if len(symbols) == 0 {
			return
		}
		b.WriteString(fmt.Sprintf("\n%s: %s", label, strings.Join(symbols, ", ")))
	}

	writeSet("Opened long", s.OpenedLongs)
	writeSet("Opened short", s.OpenedShorts)
	writeSet("Closed long", s.ClosedLongs)
	writeSet("Closed short", s.ClosedShorts)
	writeSet("Retained long (buffer)", s.RetainedLongs)
	writeSet("Retained short (buffer)", s.RetainedShorts)

	if len(s.OpenedLongs) > 0 {
		b.WriteString(fmt.Sprintf("\nNotional per long: $%s", s.NotionalPerLong.StringFixed(2)))
	}
	if len(s.OpenedShorts) > 0 {
		b.WriteString(fmt.Sprintf("\nNotional per short: $%s", s.NotionalPerShort.StringFixed(2)))
	}
	if s.FailedActions > 0 {
		b.WriteString(fmt.Sprintf("\nFailed actions: %d", s.FailedActions))
	}

	return b.String()
}

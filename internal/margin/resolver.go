// Package margin resolves leverage limits from a tiered range table.
// The resolver is a pure lookup; policy defaults for unknown assets belong
// to the caller.
package margin

import (
	"fmt"
	"sort"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

// Tier is one row of the margin range table. Ranges for a given
// (asset, network) pair are disjoint and scanned in tier order.
type Tier struct {
	Asset       string
	Network     string
	Tier        int
	MinNotional decimal.Decimal
	MaxNotional decimal.Decimal
	MaxLeverage int
}

// Resolver answers leverage questions for (asset, notional, network).
type Resolver struct {
	tiers map[string][]Tier // keyed by asset|network, sorted by tier
}

// NewResolver builds a resolver from tier rows.
func NewResolver(tiers []Tier) *Resolver {
	byKey := make(map[string][]Tier)
	for _, t := range tiers {
		k := tierKey(t.Asset, t.Network)
		byKey[k] = append(byKey[k], t)
	}
	for k := range byKey {
		rows := byKey[k]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Tier < rows[j].Tier })
		byKey[k] = rows
	}
	return &Resolver{tiers: byKey}
}

// MaxLeverage returns the maximum leverage for the tier containing the
// notional value, or false if the asset/network pair is unknown or no
// tier covers the value.
func (r *Resolver) MaxLeverage(asset string, notional decimal.Decimal, network string) (int, bool) {
	for _, t := range r.tiers[tierKey(asset, network)] {
		if notional.GreaterThanOrEqual(t.MinNotional) && notional.LessThanOrEqual(t.MaxNotional) {
			return t.MaxLeverage, true
		}
	}
	return 0, false
}

// OptimalLeverage scales the maximum leverage by a risk factor, floored
// at 1. Returns false when MaxLeverage does.
func (r *Resolver) OptimalLeverage(asset string, notional decimal.Decimal, riskFactor decimal.Decimal, network string) (int, bool) {
	max, ok := r.MaxLeverage(asset, notional, network)
	if !ok {
		return 0, false
	}

	scaled := decimal.NewFromInt(int64(max)).Mul(riskFactor).IntPart()
	if scaled < 1 {
		scaled = 1
	}
	return int(scaled), true
}

// ValidateLeverage checks a desired leverage against the tier maximum.
func (r *Resolver) ValidateLeverage(asset string, notional decimal.Decimal, desired int, network string) error {
	max, ok := r.MaxLeverage(asset, notional, network)
	if !ok {
		return fmt.Errorf("%w: %s on %s at %s", types.ErrTierNotFound, asset, network, notional)
	}
	if desired > max {
		return fmt.Errorf("leverage %dx exceeds tier maximum %dx for %s", desired, max, asset)
	}
	return nil
}

// MaintenanceMarginRate returns half the inverse of the tier's maximum
// leverage, the venue's maintenance rate convention.
func (r *Resolver) MaintenanceMarginRate(asset string, notional decimal.Decimal, network string) (decimal.Decimal, bool) {
	max, ok := r.MaxLeverage(asset, notional, network)
	if !ok || max == 0 {
		return decimal.Zero, false
	}
	one := decimal.NewFromInt(1)
	two := decimal.NewFromInt(2)
	return one.Div(decimal.NewFromInt(int64(max))).Div(two), true
}

// Assets returns the distinct assets known on a network.
func (r *Resolver) Assets(network string) []string {
	seen := make(map[string]bool)
	var assets []string
	for _, rows := range r.tiers {
		for _, t := range rows {
			if t.Network == network && !seen[t.Asset] {
				seen[t.Asset] = true
				assets = append(assets, t.Asset)
			}
		}
	}
	sort.Strings(assets)
	return assets
}

func tierKey(asset, network string) string {
	return asset + "|" + network
}

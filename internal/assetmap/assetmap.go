// Package assetmap reconciles asset identity between the ranking feed and
// the execution venue. A Map is built once per session and never mutated;
// a new listing means building a new Map.
package assetmap

import (
	"fmt"
	"strings"

	"github.com/lsquant/twapbot/internal/types"
)

// Quote suffixes stripped when normalizing a symbol to its base asset.
var quoteSuffixes = []string{"USDT", "USDC", "USD", "PERP"}

// Map is an immutable bidirectional feed<->venue symbol association.
type Map struct {
	feedToVenue map[string]string
	venueToFeed map[string]string
}

// Build constructs a Map by matching feed and venue symbols on their
// normalized base asset. Blacklisted base assets are skipped. Feed symbols
// with no venue counterpart are simply not mapped; a base asset appearing
// twice on either side is an error.
func Build(feedSymbols, venueSymbols, blacklist []string) (*Map, error) {
	blocked := make(map[string]bool, len(blacklist))
	for _, b := range blacklist {
		blocked[normalize(b)] = true
	}

	venueByBase := make(map[string]string, len(venueSymbols))
	for _, vs := range venueSymbols {
		base := normalize(vs)
		if base == "" || blocked[base] {
			continue
		}
		if prev, ok := venueByBase[base]; ok {
			return nil, fmt.Errorf("%w: venue symbols %s and %s share base %s",
				types.ErrDuplicateMapping, prev, vs, base)
		}
		venueByBase[base] = vs
	}

	m := &Map{
		feedToVenue: make(map[string]string),
		venueToFeed: make(map[string]string),
	}

	for _, fs := range feedSymbols {
		base := normalize(fs)
		if base == "" || blocked[base] {
			continue
		}
		vs, ok := venueByBase[base]
		if !ok {
			continue
		}
		if prev, ok := m.feedToVenue[fs]; ok && prev != vs {
			return nil, fmt.Errorf("%w: feed symbol %s maps to %s and %s",
				types.ErrDuplicateMapping, fs, prev, vs)
		}
		if _, ok := m.venueToFeed[vs]; ok {
			return nil, fmt.Errorf("%w: venue symbol %s matched by multiple feed symbols",
				types.ErrDuplicateMapping, vs)
		}
		m.feedToVenue[fs] = vs
		m.venueToFeed[vs] = fs
	}

	return m, nil
}

// ToVenue resolves a feed symbol to its venue symbol.
func (m *Map) ToVenue(feedSymbol string) (string, bool) {
	vs, ok := m.feedToVenue[feedSymbol]
	return vs, ok
}

// ToFeed resolves a venue symbol to its feed symbol.
func (m *Map) ToFeed(venueSymbol string) (string, bool) {
	fs, ok := m.venueToFeed[venueSymbol]
	return fs, ok
}

// Len returns the number of mapped assets.
func (m *Map) Len() int {
	return len(m.feedToVenue)
}

// normalize reduces a symbol to its base asset: uppercased, separators
// removed, one trailing quote suffix stripped.
func normalize(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, sep := range []string{"/", "-", "_", ":"} {
		s = strings.ReplaceAll(s, sep, "")
	}
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			return strings.TrimSuffix(s, suffix)
		}
	}
	return s
}

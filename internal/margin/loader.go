package margin

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

// csv columns: asset, network, tier, min_notional, max_notional, max_leverage
const tierColumns = 6

// LoadTiers reads a margin tier table from a CSV file. A header row is
// detected and skipped.
func LoadTiers(path string) ([]Tier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tier table: %w", err)
	}
	defer f.Close()

	tiers, err := ParseTiers(f)
	if err != nil {
		return nil, fmt.Errorf("parse tier table %s: %w", path, err)
	}
	return tiers, nil
}

// ParseTiers parses tier rows from CSV data.
func ParseTiers(r io.Reader) ([]Tier, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	var tiers []Tier
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++

		if len(record) != tierColumns {
			return nil, fmt.Errorf("%w: line %d has %d columns, want %d",
				types.ErrInvalidConfig, line, len(record), tierColumns)
		}

		// Header row
		if line == 1 && strings.EqualFold(record[0], "asset") {
			continue
		}

		tier, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", types.ErrInvalidConfig, line, err)
		}
		tiers = append(tiers, tier)
	}

	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: tier table is empty", types.ErrInvalidConfig)
	}
	return tiers, nil
}

func parseRow(record []string) (Tier, error) {
	tierNum, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil {
		return Tier{}, fmt.Errorf("tier: %v", err)
	}

	minNotional, err := decimal.NewFromString(strings.TrimSpace(record[3]))
	if err != nil {
		return Tier{}, fmt.Errorf("min_notional: %v", err)
	}

	maxNotional, err := decimal.NewFromString(strings.TrimSpace(record[4]))
	if err != nil {
		return Tier{}, fmt.Errorf("max_notional: %v", err)
	}

	maxLeverage, err := strconv.Atoi(strings.TrimSpace(record[5]))
	if err != nil {
		return Tier{}, fmt.Errorf("max_leverage: %v", err)
	}

	if maxNotional.LessThan(minNotional) {
		return Tier{}, fmt.Errorf("max_notional %s below min_notional %s", maxNotional, minNotional)
	}
	if maxLeverage <= 0 {
		return Tier{}, fmt.Errorf("max_leverage must be positive, got %d", maxLeverage)
	}

	return Tier{
		Asset:       strings.TrimSpace(record[0]),
		Network:     strings.TrimSpace(record[1]),
		Tier:        tierNum,
		MinNotional: minNotional,
		MaxNotional: maxNotional,
		MaxLeverage: maxLeverage,
	}, nil
}

package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RateTable maps a sponsor level to the percentage of an investment paid at that level.
// Missing levels pay nothing.
type RateTable map[int]decimal.Decimal

// ParseRateTable parses "level:percent" pairs separated by commas, e.g. "1:10,2:5,3:3,4:1".
func ParseRateTable(s string) (RateTable, error) {
	rt := RateTable{}
	s = strings.TrimSpace(s)
	if s == "" {
		return rt, nil
	}
	for _, pair := range strings.Split(s, ",") {
		lvl, pct, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("rate %q: want level:percent", pair)
		}
		level, err := strconv.Atoi(strings.TrimSpace(lvl))
		if err != nil {
			return nil, fmt.Errorf("rate %q: bad level: %w", pair, err)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(pct))
		if err != nil {
			return nil, fmt.Errorf("rate %q: bad percent: %w", pair, err)
		}
		if _, dup := rt[level]; dup {
			return nil, fmt.Errorf("rate for level %d given twice", level)
		}
		rt[level] = rate
	}
	return rt, rt.Validate()
}

// Decode lets envconfig populate a RateTable from its string form.
func (r *RateTable) Decode(value string) error {
	rt, err := ParseRateTable(value)
	if err != nil {
		return err
	}
	*r = rt
	return nil
}

func (r RateTable) Validate() error {
	for level, rate := range r {
		if level < 1 || level > MaxLevel {
			return fmt.Errorf("rate level %d outside 1..%d", level, MaxLevel)
		}
		if rate.IsNegative() || rate.GreaterThan(hundred) {
			return fmt.Errorf("rate for level %d must be within 0..100, got %s", level, rate)
		}
	}
	return nil
}

func (r RateTable) Rate(level int) decimal.Decimal {
	return r[level]
}

// Sum is the total percentage over all levels.
func (r RateTable) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, rate := range r {
		total = total.Add(rate)
	}
	return total
}

// Commission returns the payout for amount at level, floored to whole minor units.
func (r RateTable) Commission(level int, amount int64) int64 {
	return PercentOf(amount, r.Rate(level))
}

func (r RateTable) String() string {
	levels := make([]int, 0, len(r))
	for l := range r {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%d:%s", l, r[l].String())
	}
	return strings.Join(parts, ",")
}

// PercentOf returns floor(amount * pct / 100) for non-negative amounts.
func PercentOf(amount int64, pct decimal.Decimal) int64 {
	if amount <= 0 || !pct.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Floor().IntPart()
}

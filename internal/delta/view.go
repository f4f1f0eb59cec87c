package delta

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"nsebse-gap/internal/model"
)

// SortMode orders rows for display.
type SortMode int

const (
	SortNone SortMode = iota
	SortPriceDiff
	SortPctDiff
)

func (m SortMode) String() string {
	switch m {
	case SortPriceDiff:
		return "price_diff"
	case SortPctDiff:
		return "pct_diff"
	}
	return "none"
}

// ParseSortMode accepts none, price_diff or pct_diff (and short forms).
func ParseSortMode(s string) (SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "input":
		return SortNone, nil
	case "price", "price_diff", "diff":
		return SortPriceDiff, nil
	case "pct", "pct_diff", "percent":
		return SortPctDiff, nil
	}
	return SortNone, fmt.Errorf("unknown sort mode %q", s)
}

// Filter keeps rows whose |PctDiff| >= minPct. A non-positive minPct keeps
// every row, including those without a gap. The input is not modified.
func Filter(rows []model.ComparisonRow, minPct decimal.Decimal) []model.ComparisonRow {
	out := make([]model.ComparisonRow, 0, len(rows))
	if !minPct.IsPositive() {
		return append(out, rows...)
	}
	for i := range rows {
		if abs, ok := rows[i].AbsPct(); ok && abs.GreaterThanOrEqual(minPct) {
			out = append(out, rows[i])
		}
	}
	return out
}

// Sort orders rows in place, descending by the absolute value the mode picks.
// Rows without a gap go last; ties keep input order.
func Sort(rows []model.ComparisonRow, mode SortMode) {
	var key func(*model.ComparisonRow) (decimal.Decimal, bool)
	switch mode {
	case SortPriceDiff:
		key = (*model.ComparisonRow).AbsDiff
	case SortPctDiff:
		key = (*model.ComparisonRow).AbsPct
	default:
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := key(&rows[i])
		b, bok := key(&rows[j])
		if aok != bok {
			return aok
		}
		return aok && a.GreaterThan(b)
	})
}

// View is the presentation-side selection applied to a cycle's rows.
type View struct {
	MinPct decimal.Decimal
	Sort   SortMode
}

// Apply filters then sorts a copy of rows.
func (v View) Apply(rows []model.ComparisonRow) []model.ComparisonRow {
	out := Filter(rows, v.MinPct)
	Sort(out, v.Sort)
	return out
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComparisonRow is one line of the NSE/BSE gap table.
// PriceDiff and PctDiff are valid only when both prices are.
type ComparisonRow struct {
	CompanyName  string              `json:"company_name"`
	NSESymbol    string              `json:"nse_symbol"`
	BSEScripCode string              `json:"bse_scrip_code"`
	NSEPrice     decimal.NullDecimal `json:"nse_price"`
	BSEPrice     decimal.NullDecimal `json:"bse_price"`
	PriceDiff    decimal.NullDecimal `json:"price_diff"`
	PctDiff      decimal.NullDecimal `json:"pct_diff"`
	AsOf         time.Time           `json:"as_of"`
}

// Compared reports whether the row carries a computed gap.
func (r *ComparisonRow) Compared() bool {
	return r.PriceDiff.Valid && r.PctDiff.Valid
}

// AbsPct returns |PctDiff|, or false when the gap is absent.
func (r *ComparisonRow) AbsPct() (decimal.Decimal, bool) {
	if !r.PctDiff.Valid {
		return decimal.Zero, false
	}
	return r.PctDiff.Decimal.Abs(), true
}

// AbsDiff returns |PriceDiff|, or false when the gap is absent.
func (r *ComparisonRow) AbsDiff() (decimal.Decimal, bool) {
	if !r.PriceDiff.Valid {
		return decimal.Zero, false
	}
	return r.PriceDiff.Decimal.Abs(), true
}

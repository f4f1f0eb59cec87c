package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is a single last-traded-price observation. AsOf is the time the
// fetch was attempted, not an exchange timestamp.
type PriceQuote struct {
	Exchange Exchange            `json:"exchange"`
	Symbol   string              `json:"symbol"`
	Token    string              `json:"token"`
	Price    decimal.NullDecimal `json:"price"`
	AsOf     time.Time           `json:"as_of"`
}

// Available reports whether the quote carries a price.
func (q PriceQuote) Available() bool { return q.Price.Valid }

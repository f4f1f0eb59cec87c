// Package delta computes the NSE/BSE price gap for a batch of listing pairs.
package delta

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"nsebse-gap/internal/model"
	"nsebse-gap/internal/quote"
)

// LookupMode selects the key used to find the BSE token.
type LookupMode int

const (
	// LookupScripCode resolves the BSE side by the pair's BSE scrip code.
	LookupScripCode LookupMode = iota
	// LookupNSESymbol resolves the BSE side by the NSE trading symbol, for
	// instrument lists where BSE rows carry the NSE-style symbol.
	LookupNSESymbol
)

func (m LookupMode) String() string {
	if m == LookupNSESymbol {
		return "nse_symbol"
	}
	return "scrip_code"
}

// ParseLookupMode accepts "scrip_code" (default when empty) or "nse_symbol".
func ParseLookupMode(s string) (LookupMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "scrip", "scrip_code", "scripcode":
		return LookupScripCode, nil
	case "symbol", "nse_symbol", "nsesymbol":
		return LookupNSESymbol, nil
	}
	return LookupScripCode, fmt.Errorf("unknown BSE lookup mode %q", s)
}

// TokenResolver looks up quote tokens.
type TokenResolver interface {
	Resolve(symbol string, ex model.Exchange) (string, bool)
}

// Engine turns listing pairs into comparison rows. One fetch failure only
// blanks that side of that row; the batch always completes.
type Engine struct {
	Resolver TokenResolver
	Provider quote.Provider
	Mode     LookupMode

	// RequestDelay is slept between sequential quote requests.
	RequestDelay time.Duration
	// Timeout bounds each quote request. Zero means no extra bound.
	Timeout time.Duration
	// Concurrency > 1 fetches that many pairs at once. Row order is kept.
	Concurrency int

	Logger *slog.Logger
	Now    func() time.Time

	// OnQuote is called after every quote attempt (optional).
	OnQuote func(ex model.Exchange, ok bool)
}

// Compute processes the first limit pairs (all when limit <= 0) and returns
// one row per pair in input order.
func (e *Engine) Compute(ctx context.Context, pairs []model.ListingPair, limit int) []model.ComparisonRow {
	if limit > 0 && limit < len(pairs) {
		pairs = pairs[:limit]
	}
	rows := make([]model.ComparisonRow, len(pairs))

	if e.Concurrency > 1 {
		p := pool.New().WithMaxGoroutines(e.Concurrency)
		for i := range pairs {
			i := i
			p.Go(func() {
				rows[i] = e.row(ctx, pairs[i])
			})
		}
		p.Wait()
		return rows
	}

	for i := range pairs {
		rows[i] = e.row(ctx, pairs[i])
	}
	return rows
}

func (e *Engine) row(ctx context.Context, pair model.ListingPair) model.ComparisonRow {
	nse := e.side(ctx, model.NSE, pair.NSESymbol)

	var bse model.PriceQuote
	switch {
	case e.Mode == LookupNSESymbol:
		bse = e.side(ctx, model.BSE, pair.NSESymbol)
	case pair.Resolved():
		bse = e.side(ctx, model.BSE, pair.BSEScripCode)
	default:
		bse = model.PriceQuote{Exchange: model.BSE, AsOf: e.now()}
	}

	return NewRow(pair, nse, bse, e.now())
}

// side resolves and fetches one exchange's price. Failures are logged and
// produce an absent price.
func (e *Engine) side(ctx context.Context, ex model.Exchange, symbol string) model.PriceQuote {
	q := model.PriceQuote{Exchange: ex, Symbol: symbol, AsOf: e.now()}
	if e.Resolver == nil || symbol == "" {
		return q
	}
	tok, ok := e.Resolver.Resolve(symbol, ex)
	if !ok || tok == "" {
		e.logger().Debug("token not found", slog.String("exchange", ex.String()), slog.String("symbol", symbol))
		return q
	}
	q.Token = tok

	if e.RequestDelay > 0 && e.Concurrency <= 1 {
		if !sleep(ctx, e.RequestDelay) {
			e.report(ex, false)
			return q
		}
	}

	fctx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	price, err := e.Provider.LTP(fctx, ex, symbol, tok)
	q.AsOf = e.now()
	if err != nil || !price.IsPositive() {
		e.logger().Warn("quote unavailable",
			slog.String("exchange", ex.String()), slog.String("symbol", symbol),
			slog.String("token", tok), slog.Any("err", err))
		e.report(ex, false)
		return q
	}
	q.Price = decimal.NewNullDecimal(price)
	e.report(ex, true)
	return q
}

func (e *Engine) report(ex model.Exchange, ok bool) {
	if e.OnQuote != nil {
		e.OnQuote(ex, ok)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var hundred = decimal.NewFromInt(100)

// Diff returns nse-bse and that difference as a percentage of nse.
// A zero NSE price gives a percentage of 0.
func Diff(nse, bse decimal.Decimal) (diff, pct decimal.Decimal) {
	diff = nse.Sub(bse)
	if nse.IsZero() {
		return diff, decimal.Zero
	}
	return diff, diff.Div(nse).Mul(hundred)
}

// NewRow assembles a row from both quotes; the gap is filled in only when
// both prices are present.
func NewRow(pair model.ListingPair, nse, bse model.PriceQuote, asOf time.Time) model.ComparisonRow {
	row := model.ComparisonRow{
		CompanyName:  pair.CompanyName,
		NSESymbol:    pair.NSESymbol,
		BSEScripCode: pair.BSEScripCode,
		NSEPrice:     nse.Price,
		BSEPrice:     bse.Price,
		AsOf:         asOf,
	}
	if nse.Price.Valid && bse.Price.Valid {
		diff, pct := Diff(nse.Price.Decimal, bse.Price.Decimal)
		row.PriceDiff = decimal.NewNullDecimal(diff)
		row.PctDiff = decimal.NewNullDecimal(pct)
	}
	return row
}

// Stats summarises one cycle.
type Stats struct {
	Rows      int
	NSEPriced int
	BSEPriced int
	Compared  int
	MaxAbsPct decimal.Decimal
}

// Summarize counts priced sides and the largest absolute gap.
func Summarize(rows []model.ComparisonRow) Stats {
	s := Stats{Rows: len(rows)}
	for i := range rows {
		r := &rows[i]
		if r.NSEPrice.Valid {
			s.NSEPriced++
		}
		if r.BSEPrice.Valid {
			s.BSEPriced++
		}
		if abs, ok := r.AbsPct(); ok {
			s.Compared++
			if abs.GreaterThan(s.MaxAbsPct) {
				s.MaxAbsPct = abs
			}
		}
	}
	return s
}

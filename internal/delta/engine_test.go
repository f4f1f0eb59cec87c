package delta

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsebse-gap/internal/instruments"
	"nsebse-gap/internal/model"
	"nsebse-gap/internal/quote"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testResolver() *instruments.Resolver {
	return instruments.NewResolver([]model.Instrument{
		{Token: "11536", Symbol: "TCS", Exchange: model.NSE},
		{Token: "532540", Symbol: "532540", Exchange: model.BSE},
		{Token: "2885", Symbol: "RELIANCE", Exchange: model.NSE},
		{Token: "500325", Symbol: "500325", Exchange: model.BSE},
		{Token: "1594", Symbol: "INFY", Exchange: model.NSE},
		{Token: "500209", Symbol: "500209", Exchange: model.BSE},
		{Token: "77777", Symbol: "INFY", Exchange: model.BSE},
	})
}

func testPairs() []model.ListingPair {
	return []model.ListingPair{
		{CompanyName: "Tata Consultancy Services Ltd.", NSESymbol: "TCS", BSEScripCode: "532540"},
		{CompanyName: "Reliance Industries Ltd.", NSESymbol: "RELIANCE", BSEScripCode: "500325"},
		{CompanyName: "Infosys Ltd.", NSESymbol: "INFY", BSEScripCode: "500209"},
		{CompanyName: "Only On NSE", NSESymbol: "NEWCO", BSEScripCode: model.Unresolved},
	}
}

// priceTable serves fixed prices keyed by token; tokens in fail return an error.
type priceTable struct {
	mu     sync.Mutex
	prices map[string]string
	fail   map[string]bool
	calls  []string
}

func (p *priceTable) LTP(ctx context.Context, ex model.Exchange, symbol, token string) (decimal.Decimal, error) {
	p.mu.Lock()
	p.calls = append(p.calls, ex.String()+":"+symbol+":"+token)
	p.mu.Unlock()
	if p.fail[token] {
		return decimal.Zero, errors.New("connection reset")
	}
	s, ok := p.prices[token]
	if !ok {
		return decimal.Zero, quote.ErrNoPrice
	}
	return dec(s), nil
}

func TestDiff(t *testing.T) {
	diff, pct := Diff(dec("100.0"), dec("99.0"))
	assert.True(t, diff.Equal(dec("1")), diff.String())
	assert.True(t, pct.Equal(dec("1")), pct.String())

	diff, pct = Diff(decimal.Zero, dec("99"))
	assert.True(t, diff.Equal(dec("-99")))
	assert.True(t, pct.IsZero())

	_, pct = Diff(dec("200"), dec("201"))
	assert.True(t, pct.Equal(dec("-0.5")), pct.String())
}

func TestNewRow_DiffOnlyWhenBothPresent(t *testing.T) {
	pair := testPairs()[0]
	now := time.Now()
	nse := model.PriceQuote{Price: decimal.NewNullDecimal(dec("100"))}
	bse := model.PriceQuote{Price: decimal.NewNullDecimal(dec("99"))}

	row := NewRow(pair, nse, bse, now)
	assert.True(t, row.Compared())
	assert.True(t, row.PriceDiff.Decimal.Equal(dec("1")))
	assert.True(t, row.PctDiff.Decimal.Equal(dec("1")))

	row = NewRow(pair, nse, model.PriceQuote{}, now)
	assert.True(t, row.NSEPrice.Valid)
	assert.False(t, row.PriceDiff.Valid)
	assert.False(t, row.PctDiff.Valid)

	row = NewRow(pair, model.PriceQuote{}, bse, now)
	assert.False(t, row.Compared())
}

func TestCompute_PartialFailureContained(t *testing.T) {
	prices := &priceTable{
		prices: map[string]string{
			"11536": "3850.00", "532540": "3849.50",
			"2885": "2900", "500325": "2901",
			"1594": "1650", "500209": "1650.5",
		},
		fail: map[string]bool{"500325": true},
	}
	e := &Engine{Resolver: testResolver(), Provider: prices}

	rows := e.Compute(context.Background(), testPairs(), 0)
	require.Len(t, rows, 4)

	assert.True(t, rows[0].Compared())
	assert.True(t, rows[0].PriceDiff.Decimal.Equal(dec("0.5")))

	assert.True(t, rows[1].NSEPrice.Valid)
	assert.False(t, rows[1].BSEPrice.Valid, "failed side is absent")
	assert.False(t, rows[1].PctDiff.Valid)

	assert.True(t, rows[2].Compared())

	assert.Equal(t, "NEWCO", rows[3].NSESymbol)
	assert.False(t, rows[3].NSEPrice.Valid, "no NSE token")
	assert.False(t, rows[3].BSEPrice.Valid, "unresolved pair skips BSE")

	for i, p := range testPairs() {
		assert.Equal(t, p.NSESymbol, rows[i].NSESymbol, "order preserved")
	}
}

func TestCompute_Limit(t *testing.T) {
	prices := &priceTable{prices: map[string]string{"11536": "1", "532540": "1"}}
	e := &Engine{Resolver: testResolver(), Provider: prices}

	rows := e.Compute(context.Background(), testPairs(), 1)
	require.Len(t, rows, 1)
	assert.Equal(t, "TCS", rows[0].NSESymbol)
	assert.Len(t, prices.calls, 2)

	assert.Len(t, e.Compute(context.Background(), testPairs(), 10), 4)
}

func TestCompute_LookupModes(t *testing.T) {
	pairs := []model.ListingPair{{CompanyName: "Infosys", NSESymbol: "INFY", BSEScripCode: "500209"}}
	prices := &priceTable{prices: map[string]string{"1594": "1650", "500209": "1651", "77777": "1649"}}

	e := &Engine{Resolver: testResolver(), Provider: prices}
	rows := e.Compute(context.Background(), pairs, 0)
	assert.True(t, rows[0].BSEPrice.Decimal.Equal(dec("1651")))
	assert.Contains(t, prices.calls, "BSE:500209:500209")

	e.Mode = LookupNSESymbol
	rows = e.Compute(context.Background(), pairs, 0)
	assert.True(t, rows[0].BSEPrice.Decimal.Equal(dec("1649")))
	assert.Contains(t, prices.calls, "BSE:INFY:77777")
}

func TestCompute_ConcurrentKeepsOrder(t *testing.T) {
	var inflight, peak atomic.Int32
	slow := quote.ProviderFunc(func(ctx context.Context, ex model.Exchange, symbol, token string) (decimal.Decimal, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if token == "2885" {
			return decimal.Zero, errors.New("timeout")
		}
		return dec("100"), nil
	})

	e := &Engine{Resolver: testResolver(), Provider: slow, Concurrency: 3}
	rows := e.Compute(context.Background(), testPairs(), 0)
	require.Len(t, rows, 4)
	for i, p := range testPairs() {
		assert.Equal(t, p.NSESymbol, rows[i].NSESymbol)
	}
	assert.False(t, rows[1].NSEPrice.Valid)
	assert.True(t, rows[1].BSEPrice.Valid)
	assert.True(t, rows[0].Compared())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestCompute_TimeoutMakesSideAbsent(t *testing.T) {
	blocking := quote.ProviderFunc(func(ctx context.Context, ex model.Exchange, symbol, token string) (decimal.Decimal, error) {
		if ex == model.BSE {
			<-ctx.Done()
			return decimal.Zero, ctx.Err()
		}
		return dec("10"), nil
	})
	var failed atomic.Int32
	e := &Engine{
		Resolver: testResolver(),
		Provider: blocking,
		Timeout:  10 * time.Millisecond,
		OnQuote: func(ex model.Exchange, ok bool) {
			if !ok {
				failed.Add(1)
			}
		},
	}
	rows := e.Compute(context.Background(), testPairs()[:1], 0)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].NSEPrice.Valid)
	assert.False(t, rows[0].BSEPrice.Valid)
	assert.Equal(t, int32(1), failed.Load())
}

func TestCompute_NilResolver(t *testing.T) {
	e := &Engine{Provider: &priceTable{}}
	rows := e.Compute(context.Background(), testPairs(), 0)
	assert.Len(t, rows, 4)
	for _, r := range rows {
		assert.False(t, r.NSEPrice.Valid)
	}
}

func TestSummarize(t *testing.T) {
	rows := []model.ComparisonRow{
		{NSEPrice: decimal.NewNullDecimal(dec("1")), BSEPrice: decimal.NewNullDecimal(dec("1")), PriceDiff: decimal.NewNullDecimal(dec("0")), PctDiff: decimal.NewNullDecimal(dec("-0.4"))},
		{NSEPrice: decimal.NewNullDecimal(dec("1"))},
		{},
	}
	s := Summarize(rows)
	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, 2, s.NSEPriced)
	assert.Equal(t, 1, s.BSEPriced)
	assert.Equal(t, 1, s.Compared)
	assert.True(t, s.MaxAbsPct.Equal(dec("0.4")))
}

func TestParseLookupMode(t *testing.T) {
	m, err := ParseLookupMode("")
	require.NoError(t, err)
	assert.Equal(t, LookupScripCode, m)

	m, err = ParseLookupMode("NSE_SYMBOL")
	require.NoError(t, err)
	assert.Equal(t, LookupNSESymbol, m)

	_, err = ParseLookupMode("isin")
	require.Error(t, err)
}

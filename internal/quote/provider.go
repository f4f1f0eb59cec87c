// Package quote fetches last traded prices. The Provider boundary is what the
// delta engine depends on; Session is the Angel One implementation.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nsebse-gap/internal/model"
)

// ErrNoPrice is returned when the provider answered but carried no usable price.
var ErrNoPrice = errors.New("no usable price")

// Provider returns the last traded price of one instrument.
type Provider interface {
	LTP(ctx context.Context, exchange model.Exchange, symbol, token string) (decimal.Decimal, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, exchange model.Exchange, symbol, token string) (decimal.Decimal, error)

func (f ProviderFunc) LTP(ctx context.Context, exchange model.Exchange, symbol, token string) (decimal.Decimal, error) {
	return f(ctx, exchange, symbol, token)
}

// ParseLTP extracts data.ltp from a getLtpData payload. Status false, a
// missing field, a non-numeric value or a non-positive price all yield
// ErrNoPrice.
func ParseLTP(res map[string]any) (decimal.Decimal, error) {
	if st, _ := res["status"].(bool); !st {
		msg, _ := res["message"].(string)
		return decimal.Zero, fmt.Errorf("%w: status false: %s", ErrNoPrice, msg)
	}
	data, ok := res["data"].(map[string]any)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: missing data", ErrNoPrice)
	}
	raw, ok := data["ltp"]
	if !ok || raw == nil {
		return decimal.Zero, fmt.Errorf("%w: missing ltp", ErrNoPrice)
	}

	var (
		price decimal.Decimal
		err   error
	)
	switch v := raw.(type) {
	case json.Number:
		price, err = decimal.NewFromString(v.String())
	case float64:
		price = decimal.NewFromFloat(v)
	case string:
		price, err = decimal.NewFromString(strings.TrimSpace(v))
	default:
		err = fmt.Errorf("unexpected ltp type %T", raw)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: ltp %s", ErrNoPrice, price)
	}
	return price, nil
}

package model

// Instrument is one tradable security on one exchange, as published in the
// broker's instrument master.
type Instrument struct {
	Token          string   `json:"token"`
	Exchange       Exchange `json:"exchange"`
	Symbol         string   `json:"symbol"` // series suffix ("-EQ", "-BE") stripped
	Name           string   `json:"name"`
	InstrumentType string   `json:"instrument_type"`
	LotSize        int      `json:"lot_size"`
}

// Key returns the lookup key for this instrument: "exchange:symbol".
func (i *Instrument) Key() string {
	return InstrumentKey(i.Symbol, i.Exchange)
}

// InstrumentKey builds the resolver key for a (symbol, exchange) pair.
func InstrumentKey(symbol string, ex Exchange) string {
	return string(ex) + ":" + symbol
}

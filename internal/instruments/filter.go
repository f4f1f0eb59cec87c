package instruments

import (
	"strconv"
	"strings"

	"nsebse-gap/internal/model"
)

// FilterOptions controls which master records are kept.
type FilterOptions struct {
	// EquityOnly additionally requires instrumenttype == "EQUITY". Angel One
	// leaves instrumenttype blank for most cash-market rows, so this mode
	// drops valid equities and is off by default.
	EquityOnly bool
}

// CleanSymbol strips everything from the first '-' onward ("TCS-EQ" -> "TCS").
func CleanSymbol(s string) string {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[:i]
	}
	return s
}

// Filter keeps NSE and BSE records and normalises their symbols.
// Input order is preserved.
func Filter(raw []RawInstrument, opts FilterOptions) []model.Instrument {
	out := make([]model.Instrument, 0, len(raw)/4)
	for _, r := range raw {
		ex, ok := model.ParseExchange(string(r.ExchSeg))
		if !ok {
			continue
		}
		itype := strings.TrimSpace(string(r.InstrumentType))
		if opts.EquityOnly && itype != "EQUITY" {
			continue
		}
		out = append(out, model.Instrument{
			Token:          strings.TrimSpace(string(r.Token)),
			Exchange:       ex,
			Symbol:         CleanSymbol(strings.TrimSpace(string(r.Symbol))),
			Name:           strings.TrimSpace(string(r.Name)),
			InstrumentType: itype,
			LotSize:        parseLotSize(string(r.LotSize)),
		})
	}
	return out
}

// parseLotSize is lenient: lot size is informational, so junk becomes 0.
func parseLotSize(s string) int {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

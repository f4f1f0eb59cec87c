package instruments

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"nsebse-gap/internal/model"
)

// Resolver maps (symbol, exchange) to a quote token. It is immutable once
// built and safe for concurrent use.
type Resolver struct {
	tokens  map[string]string
	records []model.Instrument
}

// NewResolver indexes records. When two records share a key the first wins.
// Records without a token are not indexed.
func NewResolver(records []model.Instrument) *Resolver {
	r := &Resolver{
		tokens:  make(map[string]string, len(records)),
		records: make([]model.Instrument, len(records)),
	}
	copy(r.records, records)
	for i := range r.records {
		rec := &r.records[i]
		if rec.Token == "" {
			continue
		}
		key := rec.Key()
		if _, dup := r.tokens[key]; !dup {
			r.tokens[key] = rec.Token
		}
	}
	return r
}

// Build downloads the master, filters it and indexes the result.
func Build(ctx context.Context, d *Downloader, opts FilterOptions) (*Resolver, error) {
	raw, err := d.Download(ctx)
	if err != nil {
		return nil, err
	}
	recs := Filter(raw, opts)
	if len(recs) == 0 {
		return nil, fmt.Errorf("instrument master: no NSE/BSE records among %d: %w", len(raw), ErrEmptyMaster)
	}
	return NewResolver(recs), nil
}

// Resolve returns the token for symbol on ex. Matching is exact and
// case-sensitive. A nil Resolver resolves nothing.
func (r *Resolver) Resolve(symbol string, ex model.Exchange) (string, bool) {
	if r == nil {
		return "", false
	}
	tok, ok := r.tokens[model.InstrumentKey(symbol, ex)]
	return tok, ok
}

// Len returns the number of indexed keys.
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.tokens)
}

// Instruments returns a copy of the records the resolver was built from.
func (r *Resolver) Instruments() []model.Instrument {
	if r == nil {
		return nil
	}
	out := make([]model.Instrument, len(r.records))
	copy(out, r.records)
	return out
}

// Candidates returns records whose symbol contains substr, optionally limited
// to one exchange (empty ex means both). Used for mapping diagnostics.
func (r *Resolver) Candidates(substr string, ex model.Exchange) []model.Instrument {
	if r == nil || substr == "" {
		return nil
	}
	var out []model.Instrument
	for _, rec := range r.records {
		if ex != "" && rec.Exchange != ex {
			continue
		}
		if strings.Contains(rec.Symbol, substr) {
			out = append(out, rec)
		}
	}
	return out
}

// Holder publishes the current Resolver so it can be swapped by a background
// refresh while quote cycles keep reading it.
type Holder struct {
	p atomic.Pointer[Resolver]
}

// NewHolder returns a Holder serving r.
func NewHolder(r *Resolver) *Holder {
	h := &Holder{}
	h.p.Store(r)
	return h
}

// Store replaces the served resolver.
func (h *Holder) Store(r *Resolver) { h.p.Store(r) }

// Load returns the served resolver.
func (h *Holder) Load() *Resolver { return h.p.Load() }

// Resolve delegates to the current resolver.
func (h *Holder) Resolve(symbol string, ex model.Exchange) (string, bool) {
	return h.p.Load().Resolve(symbol, ex)
}

// Command mapcheck explains how one NSE symbol resolves: its mapping row,
// its token on each exchange, and near matches when a lookup fails.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"nsebse-gap/config"
	"nsebse-gap/internal/instruments"
	"nsebse-gap/internal/logger"
	"nsebse-gap/internal/matcher"
	"nsebse-gap/internal/model"
)

const maxCandidates = 10

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.String("err", err.Error()))
		os.Exit(2)
	}

	symbol := flag.String("symbol", "TCS", "NSE symbol to diagnose")
	instPath := flag.String("instruments", cfg.InstrumentCSV, "Instrument CSV")
	mapPath := flag.String("mapping", cfg.MappingCSV, "Mapping CSV")
	flag.Parse()

	log := logger.Init("mapcheck", logger.ParseLevel(cfg.LogLevel))

	recs, err := instruments.LoadFile(*instPath)
	if err != nil {
		log.Error("read instruments", slog.String("path", *instPath), slog.String("err", err.Error()))
		os.Exit(1)
	}
	pairs, err := matcher.LoadPairsFile(*mapPath)
	if err != nil {
		log.Error("read mapping", slog.String("path", *mapPath), slog.String("err", err.Error()))
		os.Exit(1)
	}

	if !report(os.Stdout, instruments.NewResolver(recs), pairs, *symbol) {
		os.Exit(1)
	}
}

// report prints the diagnosis and returns true when both sides resolve.
func report(w io.Writer, r *instruments.Resolver, pairs []model.ListingPair, symbol string) bool {
	fmt.Fprintf(w, "Symbol: %s\n", symbol)

	var pair *model.ListingPair
	for i := range pairs {
		if pairs[i].NSESymbol == symbol {
			pair = &pairs[i]
			break
		}
	}
	if pair == nil {
		fmt.Fprintln(w, "Mapping: no row for this NSE symbol")
	} else {
		fmt.Fprintf(w, "Mapping: %s -> BSE %s\n", pair.CompanyName, pair.BSEScripCode)
	}

	nseOK := lookup(w, r, symbol, model.NSE)

	bseKey := symbol
	if pair != nil && pair.Resolved() {
		bseKey = pair.BSEScripCode
	}
	bseOK := lookup(w, r, bseKey, model.BSE)
	if !bseOK && bseKey != symbol {
		fmt.Fprintln(w, "  trying the NSE symbol on BSE instead")
		lookup(w, r, symbol, model.BSE)
	}
	return nseOK && bseOK
}

func lookup(w io.Writer, r *instruments.Resolver, key string, ex model.Exchange) bool {
	if tok, ok := r.Resolve(key, ex); ok {
		fmt.Fprintf(w, "%s %s: token %s\n", ex, key, tok)
		return true
	}
	fmt.Fprintf(w, "%s %s: not found\n", ex, key)
	cands := r.Candidates(strings.ToUpper(key), ex)
	if len(cands) == 0 {
		fmt.Fprintln(w, "  no instruments contain this text")
		return false
	}
	fmt.Fprintf(w, "  %d instruments contain %q:\n", len(cands), key)
	for i, c := range cands {
		if i == maxCandidates {
			fmt.Fprintf(w, "  ... %d more\n", len(cands)-maxCandidates)
			break
		}
		fmt.Fprintf(w, "  %-20s token %-8s %s\n", c.Symbol, c.Token, c.Name)
	}
	return false
}

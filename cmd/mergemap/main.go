// Command mergemap joins the NSE and BSE listing files on normalized company
// name and writes the mapping CSV used by gapwatch.
package main

import (
	"flag"
	"log/slog"
	"os"

	"nsebse-gap/config"
	"nsebse-gap/internal/logger"
	"nsebse-gap/internal/matcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.String("err", err.Error()))
		os.Exit(2)
	}

	nsePath := flag.String("nse", cfg.NSEListingCSV, "NSE listing CSV (nseSymbol, companyName)")
	bsePath := flag.String("bse", cfg.BSEListingCSV, "BSE listing CSV (bseScripCode, companyName)")
	out := flag.String("out", cfg.MappingCSV, "Output mapping CSV")
	flag.Parse()

	log := logger.Init("mergemap", logger.ParseLevel(cfg.LogLevel))

	nse, err := matcher.LoadNSEFile(*nsePath)
	if err != nil {
		log.Error("read NSE listing", slog.String("path", *nsePath), slog.String("err", err.Error()))
		os.Exit(1)
	}
	bse, err := matcher.LoadBSEFile(*bsePath)
	if err != nil {
		log.Error("read BSE listing", slog.String("path", *bsePath), slog.String("err", err.Error()))
		os.Exit(1)
	}

	pairs := matcher.Match(nse, bse)
	if err := matcher.SavePairsFile(*out, pairs); err != nil {
		log.Error("write mapping", slog.String("path", *out), slog.String("err", err.Error()))
		os.Exit(1)
	}

	log.Info("mapping written",
		slog.String("path", *out),
		slog.Int("nse_rows", len(nse)),
		slog.Int("bse_rows", len(bse)),
		slog.Int("matched", matcher.Matched(pairs)),
	)
}

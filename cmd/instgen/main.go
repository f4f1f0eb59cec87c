// Command instgen downloads the Angel One instrument master and writes the
// NSE/BSE subset to instrument_list.csv (and optionally SQLite).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nsebse-gap/config"
	"nsebse-gap/internal/instruments"
	"nsebse-gap/internal/logger"
	sqlitestore "nsebse-gap/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.String("err", err.Error()))
		os.Exit(2)
	}

	out := flag.String("out", cfg.InstrumentCSV, "Output CSV path")
	url := flag.String("url", cfg.InstrumentMasterURL, "Instrument master URL")
	equityOnly := flag.Bool("equity-only", cfg.EquityOnly, "Keep only equity instruments")
	dbPath := flag.String("db", cfg.SQLitePath, "Also store instruments in this SQLite database")
	timeout := flag.Duration("timeout", 60*time.Second, "Download timeout")
	flag.Parse()

	log := logger.Init("instgen", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	raw, err := instruments.NewDownloader(*url, *timeout).Download(ctx)
	if err != nil {
		log.Error("instrument master download failed", slog.String("url", *url), slog.String("err", err.Error()))
		os.Exit(1)
	}
	recs := instruments.Filter(raw, instruments.FilterOptions{EquityOnly: *equityOnly})
	log.Info("instrument master filtered",
		slog.Int("downloaded", len(raw)),
		slog.Int("kept", len(recs)),
		slog.Bool("equity_only", *equityOnly),
		slog.Duration("took", time.Since(start)),
	)
	if len(recs) == 0 {
		log.Error("no NSE/BSE instruments in master")
		os.Exit(1)
	}

	if err := instruments.SaveFile(*out, recs); err != nil {
		log.Error("write instrument csv", slog.String("path", *out), slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("instrument csv written", slog.String("path", *out), slog.Int("rows", len(recs)))

	if *dbPath != "" {
		w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: *dbPath, Logger: log})
		if err != nil {
			log.Error("sqlite open", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer w.Close()
		if err := w.SaveInstruments(ctx, recs); err != nil {
			log.Error("sqlite save instruments", slog.String("err", err.Error()))
			os.Exit(1)
		}
	}
}

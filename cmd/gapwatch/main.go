// Command gapwatch logs in to SmartAPI and refreshes the NSE/BSE price gap
// table on a fixed interval, feeding the terminal, SQLite, Redis, WebSocket
// clients and alert channels.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"golang.org/x/term"

	"nsebse-gap/config"
	"nsebse-gap/internal/api"
	"nsebse-gap/internal/delta"
	"nsebse-gap/internal/gateway"
	"nsebse-gap/internal/instruments"
	"nsebse-gap/internal/logger"
	"nsebse-gap/internal/markethours"
	"nsebse-gap/internal/matcher"
	"nsebse-gap/internal/metrics"
	"nsebse-gap/internal/notification"
	"nsebse-gap/internal/quote"
	"nsebse-gap/internal/render"
	"nsebse-gap/internal/scheduler"
	redisstore "nsebse-gap/internal/store/redis"
	sqlitestore "nsebse-gap/internal/store/sqlite"
	"nsebse-gap/internal/watch"
)

const snapshotRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.String("err", err.Error()))
		os.Exit(2)
	}

	once := flag.Bool("once", false, "Run a single cycle and exit")
	limit := flag.Int("limit", cfg.BatchSize, "Pairs per cycle (0 = all)")
	noClear := flag.Bool("no-clear", false, "Do not clear the screen between cycles")
	noColor := flag.Bool("no-color", false, "Do not colour the difference columns")
	flag.Parse()

	// the table owns stdout
	log := logger.InitWriter(os.Stderr, "gapwatch", logger.ParseLevel(cfg.LogLevel))

	if err := cfg.RequireCredentials(); err != nil {
		log.Error("credentials", slog.String("err", err.Error()))
		os.Exit(2)
	}
	mode, err := delta.ParseLookupMode(cfg.BSELookupMode)
	if err != nil {
		log.Error("BSE_LOOKUP_MODE", slog.String("err", err.Error()))
		os.Exit(2)
	}
	sortMode, err := delta.ParseSortMode(cfg.SortMode)
	if err != nil {
		log.Error("SORT_MODE", slog.String("err", err.Error()))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Mapping ----
	pairs, err := matcher.LoadPairsFile(cfg.MappingCSV)
	if err != nil {
		log.Error("read mapping", slog.String("path", cfg.MappingCSV), slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("mapping loaded", slog.Int("pairs", len(pairs)), slog.Int("matched", matcher.Matched(pairs)))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	health.StaleAfter = 10 * cfg.RefreshInterval

	// ---- SQLite (optional) ----
	var sqlWriter *sqlitestore.Writer
	var sqlReader *sqlitestore.Reader
	var sqlDB *sql.DB
	if cfg.SQLitePath != "" {
		sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{
			DBPath: cfg.SQLitePath,
			Logger: log,
			OnCommit: func(n int, took time.Duration) {
				prom.SnapshotsWritten.Add(float64(n))
				prom.SQLiteCommitDur.Observe(took.Seconds())
			},
		})
		if err != nil {
			log.Error("sqlite init failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer sqlWriter.Close()
		sqlDB = sqlWriter.DB()
		if sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath); err != nil {
			log.Error("sqlite reader init failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer sqlReader.Close()
		health.EnableSQLite(true)
	}

	// ---- Instruments ----
	resolver, err := loadResolver(ctx, cfg, sqlReader, log)
	if err != nil {
		log.Error("instrument resolver", slog.String("err", err.Error()))
		os.Exit(1)
	}
	holder := instruments.NewHolder(resolver)
	prom.ObserveRefresh(resolver.Len(), nil)
	health.SetInstruments(resolver.Len())

	// ---- Redis (optional) ----
	var redisWriter *redisstore.Writer
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		breaker := redisstore.NewCircuitBreaker(5, 10*time.Second)
		breaker.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			LatestTTL: 10 * cfg.RefreshInterval,
			Breaker:   breaker,
			Logger:    log,
			OnPublish: func(took time.Duration, _ error) { prom.RedisPublishDur.Observe(took.Seconds()) },
		})
		if err != nil {
			log.Warn("redis init failed, continuing without redis", slog.String("err", err.Error()))
			health.EnableRedis(false)
		} else {
			defer redisWriter.Close()
			rdb = redisWriter.Client()
			health.EnableRedis(true)
		}
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	// ---- Broker session ----
	sessCfg := quote.SessionConfig{
		Credentials: quote.Credentials{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		},
		Timeout: cfg.QuoteTimeout,
		Logger:  log,
	}
	sessions := &sessionManager{cfg: sessCfg, log: log, health: health}
	if err := sessions.open(ctx); err != nil {
		log.Error("broker login failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sessions.close(closeCtx)
	}()

	// ---- Gateway ----
	hub := gateway.NewHub(64, log)
	var history api.HistoryReader
	if sqlReader != nil {
		history = sqlReader
	}
	var stored api.SnapshotReader
	if redisWriter != nil {
		stored = redisWriter
	}
	router := api.NewRouter(hub, history, stored)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, nil, log)
	metricsSrv.Handle("/api/", router)
	metricsSrv.Handle("/ws", router)
	metricsSrv.Start()

	// ---- Alerts ----
	var alerter *notification.GapAlerter
	if cfg.AlertsEnabled() {
		alerter = notification.NewGapAlerter(buildNotifier(cfg, log), cfg.AlertGapPct, cfg.AlertCooldown, log)
	}

	// ---- Cycle ----
	engine := &delta.Engine{
		Resolver:     holder,
		Provider:     meteredProvider(sessions, prom),
		Mode:         mode,
		RequestDelay: cfg.RequestDelay,
		Timeout:      cfg.QuoteTimeout,
		Concurrency:  cfg.FetchConcurrency,
		Logger:       log,
	}
	w := &watch.Watcher{
		Engine: engine,
		Pairs:  pairs,
		Limit:  *limit,
		View:   delta.View{MinPct: cfg.MinGapPct, Sort: sortMode},
		Out:    os.Stdout,
		Render: render.Options{
			Clear: !*noClear && !*once,
			Color: !*noColor && os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stdout.Fd())),
		},
		Hub:     hub,
		Metrics: prom,
		Health:  health,
		Before:  sessions.ensure,
		Logger:  log,
	}
	if redisWriter != nil {
		w.Publisher = redisWriter
	}
	if sqlWriter != nil {
		w.Store = sqlWriter
	}
	if alerter != nil {
		w.Alerter = alerter
	}

	if *once {
		if err := w.Cycle(logger.WithCycleID(ctx, logger.GenerateCycleID(1, time.Now()))); err != nil {
			log.Error("cycle failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		return
	}

	// ---- Scheduled jobs ----
	sched := cron.New(cron.WithLocation(markethours.IST))
	if cfg.InstrumentRefreshCron != "" {
		_, err := sched.AddFunc(cfg.InstrumentRefreshCron, func() {
			refreshInstruments(ctx, cfg, holder, sqlWriter, prom, health, log)
		})
		if err != nil {
			log.Error("INSTRUMENT_REFRESH_CRON", slog.String("err", err.Error()))
			os.Exit(2)
		}
	}
	if sqlWriter != nil {
		sched.AddFunc("30 18 * * *", func() {
			n, err := sqlWriter.Prune(ctx, time.Now().Add(-snapshotRetention))
			if err != nil {
				log.Warn("snapshot prune failed", slog.String("err", err.Error()))
				return
			}
			log.Info("snapshots pruned", slog.Int64("rows", n))
		})
	}
	sched.Start()

	loop := &scheduler.Loop{
		Interval: cfg.RefreshInterval,
		Cycle: func(ctx context.Context) error {
			open := markethours.IsMarketOpen(time.Now())
			health.SetMarketOpen(open)
			prom.MarketState.Set(boolFloat(open))
			return w.Cycle(ctx)
		},
		Logger: log,
		OnClosed: func(next time.Time) {
			health.SetMarketOpen(false)
			prom.MarketState.Set(0)
		},
	}
	if cfg.MarketHoursOnly {
		loop.Gate = markethours.Gate
	}

	log.Info("gapwatch started",
		slog.Int("pairs", len(pairs)),
		slog.Int("limit", *limit),
		slog.Duration("interval", cfg.RefreshInterval),
		slog.String("lookup", mode.String()),
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.String("market", markethours.StatusString(time.Now())),
	)

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("loop stopped", slog.String("err", err.Error()))
	}

	log.Info("shutdown signal received, cleaning up")
	<-sched.Stop().Done()
	hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)
	log.Info("shutdown complete")
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

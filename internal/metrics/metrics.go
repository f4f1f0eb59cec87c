package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"nsebse-gap/internal/delta"
)

// Metrics holds all Prometheus metrics for the gap watcher.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec // labels: result=ok|error
	CycleDuration prometheus.Histogram

	// Quote fetches
	QuoteRequests *prometheus.CounterVec // labels: exchange, result=ok|error
	QuoteDuration *prometheus.HistogramVec

	// Cycle results
	RowsTotal     prometheus.Gauge
	RowsCompared  prometheus.Gauge
	RowsPriced    *prometheus.GaugeVec // labels: exchange
	MaxAbsGapPct  prometheus.Gauge
	AlertsTotal   prometheus.Counter
	LastCycleUnix prometheus.Gauge

	// Instrument resolver
	ResolverSize      prometheus.Gauge
	ResolverRefreshes *prometheus.CounterVec // labels: result=ok|error

	// Sinks
	RedisPublishDur          prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	SnapshotsWritten         prometheus.Counter
	SQLiteCommitDur          prometheus.Histogram

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// means the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapwatch_cycles_total",
			Help: "Refresh cycles run, by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapwatch_cycle_duration_seconds",
			Help:    "Wall time of one refresh cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		QuoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapwatch_quote_requests_total",
			Help: "LTP requests by exchange and result",
		}, []string{"exchange", "result"}),
		QuoteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gapwatch_quote_duration_seconds",
			Help:    "LTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"exchange"}),

		RowsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapwatch_rows",
			Help: "Rows produced by the last cycle",
		}),
		RowsCompared: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapwatch_rows_compared",
			Help: "Rows in the last cycle with both prices",
		}),
		RowsPriced: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gapwatch_rows_priced",
			Help: "Rows in the last cycle with a price, by exchange",
		}, []string{"exchange"}),
		MaxAbsGapPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapwatch_max_abs_gap_pct",
			Help: "Largest absolute NSE/BSE gap in percent in the last cycle",
		}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapwatch_alerts_total",
			Help: "Gap alerts sent",
		}),
		LastCycleUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapwatch_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished",
		}),

		ResolverSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapwatch_resolver_instruments",
			Help: "Instruments held by the active resolver",
		}),
		ResolverRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gapwatch_resolver_refreshes_total",
			Help: "Instrument master refreshes, by result",
		}, []string{"result"}),

		RedisPublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapwatch_redis_publish_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapwatch_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapwatch_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gapwatch_snapshots_written_total",
			Help: "Gap snapshot rows committed to SQLite",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gapwatch_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gapwatch_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.QuoteRequests,
		m.QuoteDuration,
		m.RowsTotal,
		m.RowsCompared,
		m.RowsPriced,
		m.MaxAbsGapPct,
		m.AlertsTotal,
		m.LastCycleUnix,
		m.ResolverSize,
		m.ResolverRefreshes,
		m.RedisPublishDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.SnapshotsWritten,
		m.SQLiteCommitDur,
		m.MarketState,
	)

	return m
}

// ObserveCycle records the outcome of one refresh cycle.
func (m *Metrics) ObserveCycle(st delta.Stats, took time.Duration, err error, at time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CyclesTotal.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(took.Seconds())
	m.LastCycleUnix.Set(float64(at.Unix()))
	if err != nil {
		return
	}
	m.RowsTotal.Set(float64(st.Rows))
	m.RowsCompared.Set(float64(st.Compared))
	m.RowsPriced.WithLabelValues("NSE").Set(float64(st.NSEPriced))
	m.RowsPriced.WithLabelValues("BSE").Set(float64(st.BSEPriced))
	m.MaxAbsGapPct.Set(decimalFloat(st.MaxAbsPct))
}

// ObserveQuote records one LTP request.
func (m *Metrics) ObserveQuote(exchange string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QuoteRequests.WithLabelValues(exchange, result).Inc()
	m.QuoteDuration.WithLabelValues(exchange).Observe(took.Seconds())
}

// ObserveRefresh records an instrument master refresh.
func (m *Metrics) ObserveRefresh(size int, err error) {
	if err != nil {
		m.ResolverRefreshes.WithLabelValues("error").Inc()
		return
	}
	m.ResolverRefreshes.WithLabelValues("ok").Inc()
	m.ResolverSize.Set(float64(size))
}

func decimalFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	SessionOK      bool      `json:"session_ok"`
	LastCycleAt    time.Time `json:"last_cycle_at"`
	LastCycleErr   string    `json:"last_cycle_err"`
	MarketOpen     bool      `json:"market_open"`
	Instruments    int       `json:"instruments"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// StaleAfter marks the watcher degraded when no cycle finished for this
	// long while the market is open. Zero disables the check.
	StaleAfter time.Duration
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetSessionOK(v bool) {
	h.mu.Lock()
	h.SessionOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetInstruments(n int) {
	h.mu.Lock()
	h.Instruments = n
	h.mu.Unlock()
}

// SetCycle records the end of a refresh cycle.
func (h *HealthStatus) SetCycle(at time.Time, err error) {
	h.mu.Lock()
	h.LastCycleAt = at
	h.LastCycleErr = ""
	if err != nil {
		h.LastCycleErr = err.Error()
	}
	h.mu.Unlock()
}

// EnableRedis marks Redis as configured and sets its current state.
func (h *HealthStatus) EnableRedis(connected bool) {
	h.mu.Lock()
	h.RedisEnabled = true
	h.RedisConnected = connected
	h.mu.Unlock()
}

// EnableSQLite marks SQLite as configured and sets its current state.
func (h *HealthStatus) EnableSQLite(ok bool) {
	h.mu.Lock()
	h.SQLiteEnabled = true
	h.SQLiteOK = ok
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

type healthReport struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	SessionOK       bool    `json:"session_ok"`
	MarketOpen      bool    `json:"market_open"`
	Instruments     int     `json:"instruments"`
	LastCycleAt     string  `json:"last_cycle_at"`
	CycleAge        string  `json:"cycle_age"`
	LastCycleErr    string  `json:"last_cycle_err,omitempty"`
	RedisEnabled    bool    `json:"redis_enabled"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteEnabled   bool    `json:"sqlite_enabled"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisDown := h.RedisEnabled && !h.RedisConnected
	sqliteDown := h.SQLiteEnabled && !h.SQLiteOK
	stale := h.StaleAfter > 0 && h.MarketOpen && !h.LastCycleAt.IsZero() &&
		time.Since(h.LastCycleAt) > h.StaleAfter

	if redisDown || sqliteDown || stale || h.LastCycleErr != "" {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SessionOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	cycleAge := ""
	lastCycle := ""
	if !h.LastCycleAt.IsZero() {
		cycleAge = time.Since(h.LastCycleAt).Round(time.Millisecond).String()
		lastCycle = h.LastCycleAt.Format(time.RFC3339)
	}

	status := healthReport{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SessionOK:       h.SessionOK,
		MarketOpen:      h.MarketOpen,
		Instruments:     h.Instruments,
		LastCycleAt:     lastCycle,
		CycleAge:        cycleAge,
		LastCycleErr:    h.LastCycleErr,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteEnabled:   h.SQLiteEnabled,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz plus any
// handlers mounted with Handle.
type Server struct {
	addr string
	mux  *http.ServeMux
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates a metrics and health server. gatherer may be nil for the
// default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		mux:  mux,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an extra handler. Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", slog.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server error", slog.String("err", err.Error()))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

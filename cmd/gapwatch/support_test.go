package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nsebse-gap/config"
	"nsebse-gap/internal/instruments"
	"nsebse-gap/internal/metrics"
	"nsebse-gap/internal/model"
	"nsebse-gap/internal/notification"
	"nsebse-gap/internal/quote"
	sqlitestore "nsebse-gap/internal/store/sqlite"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// broker fakes the SmartAPI routes a session touches.
type broker struct {
	logins, renewals, logouts atomic.Int32

	expired    atomic.Bool // LTP answers 403 TokenException
	renewFails atomic.Bool
	loginFails atomic.Bool
}

func (b *broker) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/auth/angelbroking/user/v1/loginByPassword", func(w http.ResponseWriter, r *http.Request) {
		if b.loginFails.Load() {
			w.Write([]byte(`{"status":false,"message":"Invalid totp","errorcode":"AB1050","data":null}`))
			return
		}
		b.logins.Add(1)
		w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt","refreshToken":"ref","feedToken":"feed"}}`))
	})
	mux.HandleFunc("/rest/secure/angelbroking/user/v1/getProfile", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":true,"data":{"clientcode":"C1"}}`))
	})
	mux.HandleFunc("/rest/auth/angelbroking/jwt/v1/generateTokens", func(w http.ResponseWriter, r *http.Request) {
		b.renewals.Add(1)
		if b.renewFails.Load() {
			w.Write([]byte(`{"status":false,"message":"Invalid refresh token","data":null}`))
			return
		}
		w.Write([]byte(`{"status":true,"data":{"jwtToken":"jwt2","refreshToken":"ref2","feedToken":"feed2"}}`))
	})
	mux.HandleFunc("/rest/secure/angelbroking/order/v1/getLtpData", func(w http.ResponseWriter, r *http.Request) {
		if b.expired.Load() {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error_type":"TokenException","message":"Invalid Token"}`))
			return
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"status":true,"data":{"exchange":"` + body["exchange"] + `","ltp":3850.05}}`))
	})
	mux.HandleFunc("/rest/secure/angelbroking/user/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		b.logouts.Add(1)
		w.Write([]byte(`{"status":true,"data":null}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newSessionManager(t *testing.T, b *broker) *sessionManager {
	t.Helper()
	return &sessionManager{
		cfg: quote.SessionConfig{
			Credentials:    quote.Credentials{APIKey: "k", ClientCode: "C1", Password: "1234", TOTPSecret: "JBSWY3DPEHPK3PXP"},
			RootURL:        b.server(t).URL,
			Timeout:        time.Second,
			ClientPublicIP: "1.1.1.1",
			ClientLocalIP:  "10.0.0.1",
			ClientMAC:      "aa:bb:cc:dd:ee:ff",
			Logger:         discard(),
		},
		log:    discard(),
		health: metrics.NewHealthStatus(),
	}
}

// expire makes the broker reject one LTP call so the session marks itself
// expired.
func expire(t *testing.T, ctx context.Context, b *broker, m *sessionManager) {
	t.Helper()
	b.expired.Store(true)
	_, err := m.LTP(ctx, model.NSE, "TCS", "11536")
	require.Error(t, err)
	b.expired.Store(false)
	require.True(t, m.sess.Expired())
}

func TestSessionManager_EnsureRenewsThenLogsInAgain(t *testing.T) {
	ctx := context.Background()
	b := &broker{}
	m := newSessionManager(t, b)

	require.NoError(t, m.ensure(ctx))
	require.NoError(t, m.ensure(ctx))
	assert.Equal(t, int32(1), b.logins.Load(), "a live session is reused")
	assert.True(t, m.health.SessionOK)
	first := m.sess

	// renewal keeps the same handle
	expire(t, ctx, b, m)
	require.NoError(t, m.ensure(ctx))
	assert.Equal(t, int32(1), b.renewals.Load())
	assert.Equal(t, int32(1), b.logins.Load())
	assert.Same(t, first, m.sess)
	assert.False(t, m.sess.Expired())

	// failed renewal logs the old session out and opens a new one
	expire(t, ctx, b, m)
	b.renewFails.Store(true)
	require.NoError(t, m.ensure(ctx))
	assert.Equal(t, int32(2), b.renewals.Load())
	assert.Equal(t, int32(1), b.logouts.Load())
	assert.Equal(t, int32(2), b.logins.Load())
	assert.NotSame(t, first, m.sess)
	assert.True(t, m.health.SessionOK)

	price, err := m.LTP(ctx, model.BSE, "532540", "532540")
	require.NoError(t, err)
	assert.Equal(t, "3850.05", price.String())
}

func TestSessionManager_FailedReloginDropsSession(t *testing.T) {
	ctx := context.Background()
	b := &broker{}
	m := newSessionManager(t, b)
	require.NoError(t, m.open(ctx))

	expire(t, ctx, b, m)
	b.renewFails.Store(true)
	b.loginFails.Store(true)
	require.Error(t, m.ensure(ctx))
	assert.Equal(t, int32(1), b.logouts.Load())
	assert.False(t, m.health.SessionOK)

	_, err := m.LTP(ctx, model.NSE, "TCS", "11536")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no broker session")

	// the next cycle logs in from scratch
	b.loginFails.Store(false)
	require.NoError(t, m.ensure(ctx))
	assert.Equal(t, int32(2), b.logins.Load())
	assert.True(t, m.health.SessionOK)

	m.close(ctx)
	assert.Equal(t, int32(2), b.logouts.Load())
	assert.Nil(t, m.sess)
}

const testMaster = `[
 {"token":"11536","symbol":"TCS-EQ","name":"TCS","lotsize":"1","instrumenttype":"","exch_seg":"NSE"},
 {"token":"532540","symbol":"532540","name":"TCS","lotsize":"1","instrumenttype":"","exch_seg":"BSE"},
 {"token":"35001","symbol":"NIFTY24DECFUT","name":"NIFTY","lotsize":"25","instrumenttype":"FUTIDX","exch_seg":"NFO"}
]`

// masterServer serves body with status and counts the downloads.
func masterServer(t *testing.T, status *atomic.Int32, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func okStatus() *atomic.Int32 {
	var s atomic.Int32
	s.Store(http.StatusOK)
	return &s
}

var localRecords = []model.Instrument{
	{Token: "1594", Exchange: model.NSE, Symbol: "INFY", Name: "INFY", LotSize: 1},
	{Token: "500209", Exchange: model.BSE, Symbol: "500209", Name: "INFY", LotSize: 1},
}

func newSQLite(t *testing.T) (*sqlitestore.Writer, *sqlitestore.Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gaps.db")
	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: path, Logger: discard()})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	r, err := sqlitestore.NewReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return w, r
}

func TestLoadResolver_PrefersCSV(t *testing.T) {
	srv, hits := masterServer(t, okStatus(), testMaster)
	cfg := &config.Config{InstrumentCSV: filepath.Join(t.TempDir(), "instrument_list.csv"), InstrumentMasterURL: srv.URL}
	require.NoError(t, instruments.SaveFile(cfg.InstrumentCSV, localRecords))

	r, err := loadResolver(context.Background(), cfg, nil, discard())
	require.NoError(t, err)
	tok, ok := r.Resolve("INFY", model.NSE)
	require.True(t, ok)
	assert.Equal(t, "1594", tok)
	assert.Zero(t, hits.Load())
}

func TestLoadResolver_FallsBackToSQLite(t *testing.T) {
	ctx := context.Background()
	srv, hits := masterServer(t, okStatus(), testMaster)
	cfg := &config.Config{InstrumentCSV: filepath.Join(t.TempDir(), "missing.csv"), InstrumentMasterURL: srv.URL}
	w, rd := newSQLite(t)
	require.NoError(t, w.SaveInstruments(ctx, localRecords))

	r, err := loadResolver(ctx, cfg, rd, discard())
	require.NoError(t, err)
	tok, ok := r.Resolve("500209", model.BSE)
	require.True(t, ok)
	assert.Equal(t, "500209", tok)
	assert.Zero(t, hits.Load())
}

func TestLoadResolver_DownloadsAndCaches(t *testing.T) {
	ctx := context.Background()
	srv, hits := masterServer(t, okStatus(), testMaster)
	cfg := &config.Config{InstrumentCSV: filepath.Join(t.TempDir(), "data", "instrument_list.csv"), InstrumentMasterURL: srv.URL}
	_, rd := newSQLite(t) // empty instruments table

	r, err := loadResolver(ctx, cfg, rd, discard())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	tok, ok := r.Resolve("TCS", model.NSE)
	require.True(t, ok)
	assert.Equal(t, "11536", tok)

	cached, err := instruments.LoadFile(cfg.InstrumentCSV)
	require.NoError(t, err)
	assert.Equal(t, r.Instruments(), cached)
}

func TestLoadResolver_UnreadableCSVIsFatal(t *testing.T) {
	srv, hits := masterServer(t, okStatus(), testMaster)
	cfg := &config.Config{InstrumentCSV: filepath.Join(t.TempDir(), "instrument_list.csv"), InstrumentMasterURL: srv.URL}
	require.NoError(t, os.WriteFile(cfg.InstrumentCSV, []byte("foo,bar\n1,2\n"), 0o644))

	_, err := loadResolver(context.Background(), cfg, nil, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), cfg.InstrumentCSV)
	assert.Zero(t, hits.Load(), "a broken local list must not be papered over by a download")
}

func counter(t *testing.T, vec *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(label).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRefreshInstruments_FailureKeepsResolver(t *testing.T) {
	ctx := context.Background()
	status := okStatus()
	status.Store(http.StatusBadGateway)
	srv, hits := masterServer(t, status, testMaster)
	cfg := &config.Config{InstrumentCSV: filepath.Join(t.TempDir(), "instrument_list.csv"), InstrumentMasterURL: srv.URL}

	old := instruments.NewResolver(localRecords)
	holder := instruments.NewHolder(old)
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	health := metrics.NewHealthStatus()
	health.SetInstruments(old.Len())
	w, rd := newSQLite(t)

	refreshInstruments(ctx, cfg, holder, w, prom, health, discard())
	assert.Equal(t, int32(1), hits.Load())
	assert.Same(t, old, holder.Load())
	assert.Equal(t, old.Len(), health.Instruments)
	assert.Equal(t, 1.0, counter(t, prom.ResolverRefreshes, "error"))
	_, err := os.Stat(cfg.InstrumentCSV)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// the next run succeeds and replaces every copy
	status.Store(http.StatusOK)
	refreshInstruments(ctx, cfg, holder, w, prom, health, discard())
	fresh := holder.Load()
	assert.NotSame(t, old, fresh)
	tok, ok := holder.Resolve("TCS", model.NSE)
	require.True(t, ok)
	assert.Equal(t, "11536", tok)
	_, ok = holder.Resolve("INFY", model.NSE)
	assert.False(t, ok)
	assert.Equal(t, fresh.Len(), health.Instruments)
	assert.Equal(t, 1.0, counter(t, prom.ResolverRefreshes, "ok"))

	onDisk, err := instruments.LoadFile(cfg.InstrumentCSV)
	require.NoError(t, err)
	assert.Equal(t, fresh.Instruments(), onDisk)
	stored, err := rd.LoadInstruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh.Instruments(), stored)
}

func TestBuildNotifier(t *testing.T) {
	_, isLog := buildNotifier(&config.Config{}, discard()).(*notification.LogNotifier)
	assert.True(t, isLog)

	n := buildNotifier(&config.Config{TelegramBotToken: "t", TelegramChatID: "c", WebhookURL: "http://x"}, discard())
	multi, ok := n.(notification.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)

	n = buildNotifier(&config.Config{TelegramBotToken: "t"}, discard())
	_, isLog = n.(*notification.LogNotifier)
	assert.True(t, isLog, "telegram needs both token and chat id")
}

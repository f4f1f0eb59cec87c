package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nsebse-gap/config"
	"nsebse-gap/internal/instruments"
	"nsebse-gap/internal/metrics"
	"nsebse-gap/internal/model"
	"nsebse-gap/internal/notification"
	"nsebse-gap/internal/quote"
	sqlitestore "nsebse-gap/internal/store/sqlite"
)

// sessionManager owns the broker session and replaces it when the broker
// rejects the token and a renewal does not help.
type sessionManager struct {
	cfg    quote.SessionConfig
	log    *slog.Logger
	health *metrics.HealthStatus

	mu   sync.RWMutex
	sess *quote.Session
}

func (m *sessionManager) open(ctx context.Context) error {
	s, err := quote.Open(ctx, m.cfg)
	if err != nil {
		m.health.SetSessionOK(false)
		return err
	}
	m.mu.Lock()
	m.sess = s
	m.mu.Unlock()
	m.health.SetSessionOK(true)
	return nil
}

// ensure runs before every cycle.
func (m *sessionManager) ensure(ctx context.Context) error {
	m.mu.RLock()
	s := m.sess
	m.mu.RUnlock()
	if s == nil {
		return m.open(ctx)
	}
	if !s.Expired() {
		return nil
	}
	err := s.Renew(ctx)
	if err == nil {
		m.health.SetSessionOK(true)
		return nil
	}
	m.log.Warn("session renew failed, logging in again", slog.String("err", err.Error()))
	m.mu.Lock()
	if m.sess == s {
		m.sess = nil
	}
	m.mu.Unlock()
	if err := s.Close(ctx); err != nil {
		m.log.Debug("logout of expired session failed", slog.String("err", err.Error()))
	}
	return m.open(ctx)
}

func (m *sessionManager) LTP(ctx context.Context, ex model.Exchange, symbol, token string) (decimal.Decimal, error) {
	m.mu.RLock()
	s := m.sess
	m.mu.RUnlock()
	if s == nil {
		return decimal.Zero, errors.New("no broker session")
	}
	return s.LTP(ctx, ex, symbol, token)
}

func (m *sessionManager) close(ctx context.Context) {
	m.mu.Lock()
	s := m.sess
	m.sess = nil
	m.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Close(ctx); err != nil {
		m.log.Warn("logout failed", slog.String("err", err.Error()))
	}
}

// meteredProvider records latency and outcome of every LTP request.
func meteredProvider(p quote.Provider, prom *metrics.Metrics) quote.Provider {
	return quote.ProviderFunc(func(ctx context.Context, ex model.Exchange, symbol, token string) (decimal.Decimal, error) {
		start := time.Now()
		price, err := p.LTP(ctx, ex, symbol, token)
		prom.ObserveQuote(ex.String(), time.Since(start), err)
		return price, err
	})
}

// loadResolver prefers the instrument CSV, then the SQLite copy, and only
// downloads the master when neither is available.
func loadResolver(ctx context.Context, cfg *config.Config, db *sqlitestore.Reader, log *slog.Logger) (*instruments.Resolver, error) {
	recs, err := instruments.LoadFile(cfg.InstrumentCSV)
	switch {
	case err == nil && len(recs) > 0:
		log.Info("instruments loaded from csv", slog.String("path", cfg.InstrumentCSV), slog.Int("records", len(recs)))
		return instruments.NewResolver(recs), nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", cfg.InstrumentCSV, err)
	}

	if db != nil {
		recs, err := db.LoadInstruments(ctx)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			log.Info("instruments loaded from sqlite", slog.Int("records", len(recs)))
			return instruments.NewResolver(recs), nil
		}
	}

	log.Info("no local instrument list, downloading master", slog.String("url", cfg.InstrumentMasterURL))
	r, err := instruments.Build(ctx, instruments.NewDownloader(cfg.InstrumentMasterURL, 0), instruments.FilterOptions{EquityOnly: cfg.EquityOnly})
	if err != nil {
		return nil, err
	}
	if err := instruments.SaveFile(cfg.InstrumentCSV, r.Instruments()); err != nil {
		log.Warn("could not cache instrument csv", slog.String("err", err.Error()))
	}
	return r, nil
}

// refreshInstruments rebuilds the resolver from a fresh download. On failure
// the current resolver stays in place.
func refreshInstruments(ctx context.Context, cfg *config.Config, holder *instruments.Holder,
	db *sqlitestore.Writer, prom *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) {
	r, err := instruments.Build(ctx, instruments.NewDownloader(cfg.InstrumentMasterURL, 0), instruments.FilterOptions{EquityOnly: cfg.EquityOnly})
	prom.ObserveRefresh(r.Len(), err)
	if err != nil {
		log.Error("instrument refresh failed, keeping previous list", slog.String("err", err.Error()))
		return
	}
	holder.Store(r)
	health.SetInstruments(r.Len())
	log.Info("instrument list refreshed", slog.Int("keys", r.Len()))

	recs := r.Instruments()
	if err := instruments.SaveFile(cfg.InstrumentCSV, recs); err != nil {
		log.Warn("could not write instrument csv", slog.String("err", err.Error()))
	}
	if db != nil {
		if err := db.SaveInstruments(ctx, recs); err != nil {
			log.Warn("could not store instruments", slog.String("err", err.Error()))
		}
	}
}

// buildNotifier combines the configured channels; alerts go to the log
// when none is set.
func buildNotifier(cfg *config.Config, log *slog.Logger) notification.Notifier {
	var n notification.Multi
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, log))
	}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL, log))
	}
	if len(n) == 0 {
		return notification.NewLogNotifier(log)
	}
	return n
}

package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nsebse-gap/internal/model"
)

// GapAlerter sends one alert per company when its |pct| gap reaches
// Threshold, then stays quiet for that company until Cooldown passes.
// A gap at twice the threshold is sent as critical.
type GapAlerter struct {
	Notifier  Notifier
	Threshold decimal.Decimal
	Cooldown  time.Duration
	Logger    *slog.Logger
	Now       func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewGapAlerter creates an alerter. A non-positive threshold disables it.
func NewGapAlerter(n Notifier, threshold decimal.Decimal, cooldown time.Duration, log *slog.Logger) *GapAlerter {
	if log == nil {
		log = slog.Default()
	}
	return &GapAlerter{
		Notifier:  n,
		Threshold: threshold,
		Cooldown:  cooldown,
		Logger:    log,
		Now:       time.Now,
		last:      make(map[string]time.Time),
	}
}

// Check sends alerts for qualifying rows and returns how many were sent.
// Delivery failures are logged and do not consume the cooldown.
func (a *GapAlerter) Check(ctx context.Context, rows []model.ComparisonRow) int {
	if a == nil || a.Notifier == nil || !a.Threshold.IsPositive() {
		return 0
	}
	now := a.Now()
	critical := a.Threshold.Mul(decimal.NewFromInt(2))

	sent := 0
	for i := range rows {
		r := &rows[i]
		abs, ok := r.AbsPct()
		if !ok || abs.LessThan(a.Threshold) {
			continue
		}
		key := r.NSESymbol
		if key == "" {
			key = r.CompanyName
		}
		if !a.due(key, now) {
			continue
		}

		level := AlertWarning
		if abs.GreaterThanOrEqual(critical) {
			level = AlertCritical
		}
		alert := Alert{
			Level:   level,
			Title:   fmt.Sprintf("NSE/BSE gap %s%% on %s", signed(r.PctDiff.Decimal), r.NSESymbol),
			Message: describe(r),
			Company: r.CompanyName,
			At:      now,
		}
		if err := a.Notifier.Send(ctx, alert); err != nil {
			a.Logger.Error("alert delivery failed", slog.String("symbol", r.NSESymbol), slog.String("err", err.Error()))
			continue
		}
		a.mark(key, now)
		sent++
	}
	return sent
}

func (a *GapAlerter) due(key string, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.last[key]
	return !ok || now.Sub(last) >= a.Cooldown
}

func (a *GapAlerter) mark(key string, now time.Time) {
	a.mu.Lock()
	a.last[key] = now
	a.mu.Unlock()
}

func describe(r *model.ComparisonRow) string {
	return fmt.Sprintf("%s (NSE %s, BSE %s)\nNSE ₹%s  BSE ₹%s\nDifference ₹%s (%s%%)",
		r.CompanyName, r.NSESymbol, r.BSEScripCode,
		r.NSEPrice.Decimal.StringFixed(2), r.BSEPrice.Decimal.StringFixed(2),
		signed(r.PriceDiff.Decimal), signed(r.PctDiff.Decimal))
}

func signed(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if !d.IsNegative() {
		s = "+" + s
	}
	return s
}

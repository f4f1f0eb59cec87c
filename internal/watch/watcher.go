// Package watch runs one gap refresh cycle end to end: fetch quotes, build
// rows, then hand them to every configured sink.
package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"nsebse-gap/internal/delta"
	"nsebse-gap/internal/gateway"
	"nsebse-gap/internal/logger"
	"nsebse-gap/internal/metrics"
	"nsebse-gap/internal/model"
	"nsebse-gap/internal/render"
)

// SnapshotPublisher receives every cycle's full snapshot (Redis).
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap model.GapSnapshot) error
}

// RowWriter persists every cycle's rows (SQLite).
type RowWriter interface {
	WriteRows(ctx context.Context, rows []model.ComparisonRow) error
}

// Alerter inspects rows and returns how many alerts it sent.
type Alerter interface {
	Check(ctx context.Context, rows []model.ComparisonRow) int
}

// Watcher holds the pairs to watch and the sinks to feed. Only Engine and
// Pairs are required.
type Watcher struct {
	Engine *delta.Engine
	Pairs  []model.ListingPair
	Limit  int

	// View filters and sorts the rendered table. Sinks get all rows.
	View   delta.View
	Out    io.Writer
	Render render.Options

	Hub       *gateway.Hub
	Publisher SnapshotPublisher
	Store     RowWriter
	Alerter   Alerter

	Metrics *metrics.Metrics
	Health  *metrics.HealthStatus

	// Before runs at the start of each cycle; an error skips the cycle.
	Before func(ctx context.Context) error

	Logger *slog.Logger
	Now    func() time.Time
}

// Cycle runs one refresh. Only a failing Before hook or a cancelled context
// is reported as an error; sink failures are logged.
func (w *Watcher) Cycle(ctx context.Context) error {
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.CycleAttrs(ctx)...)
	now := w.Now
	if now == nil {
		now = time.Now
	}
	start := now()

	var stats delta.Stats
	err := w.run(ctx, log, start, &stats)

	end := now()
	if w.Metrics != nil {
		w.Metrics.ObserveCycle(stats, end.Sub(start), err, end)
	}
	if w.Health != nil {
		w.Health.SetCycle(end, err)
	}
	return err
}

func (w *Watcher) run(ctx context.Context, log *slog.Logger, start time.Time, stats *delta.Stats) error {
	if w.Before != nil {
		if err := w.Before(ctx); err != nil {
			return fmt.Errorf("cycle setup: %w", err)
		}
	}

	rows := w.Engine.Compute(ctx, w.Pairs, w.Limit)
	if err := ctx.Err(); err != nil {
		return err
	}
	*stats = delta.Summarize(rows)
	log.Info("cycle computed",
		slog.Int("rows", stats.Rows),
		slog.Int("nse_priced", stats.NSEPriced),
		slog.Int("bse_priced", stats.BSEPriced),
		slog.Int("compared", stats.Compared),
		slog.String("max_abs_pct", stats.MaxAbsPct.StringFixed(2)),
	)

	snap := model.GapSnapshot{AsOf: start, Rows: rows}
	if w.Hub != nil {
		snap = w.Hub.Publish(snap)
	}
	if w.Publisher != nil {
		if err := w.Publisher.Publish(ctx, snap); err != nil {
			log.Warn("snapshot publish failed", slog.String("err", err.Error()))
		}
	}
	if w.Store != nil {
		if err := w.Store.WriteRows(ctx, rows); err != nil {
			log.Error("snapshot store failed", slog.String("err", err.Error()))
		}
	}
	if w.Alerter != nil {
		if n := w.Alerter.Check(ctx, rows); n > 0 {
			log.Info("gap alerts sent", slog.Int("count", n))
			if w.Metrics != nil {
				w.Metrics.AlertsTotal.Add(float64(n))
			}
		}
	}
	if w.Out != nil {
		if err := render.Frame(w.Out, w.View.Apply(rows), start, w.Render); err != nil {
			log.Warn("render failed", slog.String("err", err.Error()))
		}
	}
	return nil
}

// Package scheduler drives the periodic refresh cycle.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"nsebse-gap/internal/logger"
)

// GateFunc reports whether a cycle may run at now. When it may not, next is
// the time to wake up and ask again.
type GateFunc func(now time.Time) (open bool, next time.Time)

// Loop runs Cycle every Interval until the context is cancelled. The
// interval is measured from the end of one cycle to the start of the next.
type Loop struct {
	Interval time.Duration
	Cycle    func(ctx context.Context) error
	Gate     GateFunc
	Logger   *slog.Logger
	Now      func() time.Time

	// OnClosed is called once each time the gate closes.
	OnClosed func(next time.Time)

	seq atomic.Int64
}

// Cycles returns how many cycles have started.
func (l *Loop) Cycles() int64 { return l.seq.Load() }

// Run blocks until ctx is cancelled. A failing cycle is logged and the loop
// carries on.
func (l *Loop) Run(ctx context.Context) error {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	now := l.Now
	if now == nil {
		now = time.Now
	}

	for {
		if l.Gate != nil {
			if open, next := l.Gate(now()); !open {
				wait := next.Sub(now())
				if wait <= 0 {
					wait = l.Interval
				}
				log.Info("market closed, sleeping", slog.Duration("wait", wait.Truncate(time.Second)), slog.Time("next", next))
				if l.OnClosed != nil {
					l.OnClosed(next)
				}
				if !sleep(ctx, wait) {
					return ctx.Err()
				}
				continue
			}
		}

		n := l.seq.Add(1)
		cctx := logger.WithCycleID(ctx, logger.GenerateCycleID(n, now()))
		if err := l.runCycle(cctx); err != nil {
			log.Error("cycle failed", append(logger.CycleAttrs(cctx), slog.String("err", err.Error()))...)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleep(ctx, l.Interval) {
			return ctx.Err()
		}
	}
}

func (l *Loop) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return l.Cycle(ctx)
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("cycle panicked: %v", p.v) }

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

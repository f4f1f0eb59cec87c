// Package logger provides structured logging using log/slog.
// It sets up a JSON handler with service-level context and carries a
// refresh-cycle ID through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const cycleIDKey ctxKey = "cycle_id"

// Init creates a JSON logger on stdout for the given service and installs it
// as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	return InitWriter(os.Stdout, service, level)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug/info/warn/error onto a slog level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCycleID stores a refresh-cycle ID in the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleID extracts the cycle ID from context. Returns "" if not set.
func CycleID(ctx context.Context) string {
	if v, ok := ctx.Value(cycleIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateCycleID builds "{seq}-{unixNano}".
func GenerateCycleID(seq int64, ts time.Time) string {
	return fmt.Sprintf("%d-%d", seq, ts.UnixNano())
}

// CycleAttrs returns slog attributes carrying the cycle ID from context.
// Usage: log.Info("msg", logger.CycleAttrs(ctx)...)
func CycleAttrs(ctx context.Context) []any {
	id := CycleID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("cycle_id", id)}
}

// Package notification delivers gap alerts to external channels
// (Telegram, webhooks) and decides when a gap is worth an alert.
package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Company string     `json:"company,omitempty"`
	At      time.Time  `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the structured log. It is the fallback when
// no external channel is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Warn("alert",
		slog.String("level", string(alert.Level)),
		slog.String("title", alert.Title),
		slog.String("message", alert.Message),
	)
	return nil
}

// Multi fans an alert out to every notifier. All are tried; their errors are
// joined.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

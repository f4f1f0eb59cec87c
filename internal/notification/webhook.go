package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier POSTs alerts as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, log *slog.Logger) *WebhookNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.At.IsZero() {
		alert.At = time.Now()
	}
	alert.At = alert.At.UTC()

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}

	w.log.Info("webhook alert sent", slog.String("title", alert.Title))
	return nil
}

// SPDX-License-Identifier: Apache-2.0

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier delivers a rendered alert to one channel. The chat transport
// behind it is treated as a sink: Notify either accepts the message or
// returns an error, and partial channel failure is tolerated upstream.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// WebhookNotifier posts alerts to an incoming-webhook style endpoint.
type WebhookNotifier struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook channel named name posting to url.
func NewWebhookNotifier(name, url string) *WebhookNotifier {
	return &WebhookNotifier{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return w.name }

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]string{"text": msg.Render()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", w.name, resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the structured log. Useful as a development
// channel and as a last-resort sink when no webhook is configured.
type LogNotifier struct {
	name string
	log  *slog.Logger
}

// NewLogNotifier creates a log-backed channel.
func NewLogNotifier(name string, log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{name: name, log: log}
}

// Name implements Notifier.
func (n *LogNotifier) Name() string { return n.name }

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.log.InfoContext(ctx, "alert.notify",
		slog.String("channel", n.name),
		slog.String("header", msg.Header),
		slog.String("message", msg.Body),
	)
	return nil
}

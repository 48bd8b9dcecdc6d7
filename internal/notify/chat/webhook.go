// Package chat posts notifications to an incoming chat webhook (Teams-style).
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/metrics"
)

// Webhook posts {"text": ...} to a fixed URL.
type Webhook struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New returns a Webhook notifier. A nil client gets a 10s timeout.
func New(url string, client *http.Client, logger *zap.Logger) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("chat webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webhook{url: url, client: client, logger: logger}, nil
}

// Text joins subject and body the way the chat message is rendered.
func Text(subject, body string) string {
	switch {
	case subject == "":
		return body
	case body == "":
		return subject
	default:
		return subject + ": " + body
	}
}

// Notify posts the message. Failures are logged.
func (w *Webhook) Notify(ctx context.Context, subject, body string) {
	text := Text(subject, body)
	if err := w.post(ctx, text); err != nil {
		metrics.ObserveNotification("chat", "failed")
		w.logger.Error("chat notification failed", zap.String("text", text), zap.Error(err))
		return
	}
	metrics.ObserveNotification("chat", "sent")
	w.logger.Debug("chat notification sent", zap.String("text", text))
}

func (w *Webhook) post(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}

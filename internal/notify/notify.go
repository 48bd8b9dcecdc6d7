// Package notify defines the fire-and-forget notification channel used by the
// reconciliation job and the webhook service.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/metrics"
)

// Notifier delivers a human-readable notification. Implementations log and
// count failures instead of returning them; callers treat notification as
// best effort.
type Notifier interface {
	Notify(ctx context.Context, subject, body string)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, subject, body string)

// Notify calls f.
func (f Func) Notify(ctx context.Context, subject, body string) {
	f(ctx, subject, body)
}

// Multi fans a notification out to each notifier in order.
type Multi []Notifier

// Notify delivers to every notifier sequentially.
func (m Multi) Notify(ctx context.Context, subject, body string) {
	for _, n := range m {
		if n == nil {
			continue
		}
		n.Notify(ctx, subject, body)
	}
}

// Combine returns a single notifier for the non-nil entries of ns.
func Combine(ns ...Notifier) Notifier {
	var out Multi
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// Log only writes notifications to the logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a log-only notifier.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify logs the notification.
func (l *Log) Notify(_ context.Context, subject, body string) {
	metrics.ObserveNotification("log", "sent")
	l.logger.Info("notification", zap.String("subject", subject), zap.String("body", body))
}

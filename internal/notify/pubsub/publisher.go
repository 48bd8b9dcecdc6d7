// Package pubsub fans notifications out to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/metrics"
)

// Publisher sends raw message data to a topic and returns the server ID.
type Publisher interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error)
}

// TopicPublisher wraps a Pub/Sub publisher client.
type TopicPublisher struct {
	publisher *pubsub.Publisher
}

// NewTopicPublisher creates a TopicPublisher for the provided topic publisher.
func NewTopicPublisher(publisher *pubsub.Publisher) *TopicPublisher {
	return &TopicPublisher{publisher: publisher}
}

// Publish publishes data and waits for the server ID.
func (p *TopicPublisher) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Event is the JSON payload published for each notification.
type Event struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Source  string    `json:"source"`
	SentAt  time.Time `json:"sent_at"`
}

// Notifier publishes each notification as an Event.
type Notifier struct {
	publisher Publisher
	source    string
	now       func() time.Time
	logger    *zap.Logger
}

// New returns a Notifier. source labels the emitting entry point (reconcile, webhook).
func New(publisher Publisher, source string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		publisher: publisher,
		source:    source,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Notify publishes the event. Failures are logged.
func (n *Notifier) Notify(ctx context.Context, subject, body string) {
	data, err := json.Marshal(Event{Subject: subject, Body: body, Source: n.source, SentAt: n.now()})
	if err != nil {
		metrics.ObserveNotification("pubsub", "failed")
		n.logger.Error("marshal notification event", zap.Error(err))
		return
	}
	id, err := n.publisher.Publish(ctx, data, map[string]string{"source": n.source})
	if err != nil {
		metrics.ObserveNotification("pubsub", "failed")
		n.logger.Error("pubsub notification failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	metrics.ObserveNotification("pubsub", "sent")
	n.logger.Debug("pubsub notification published", zap.String("message_id", id))
}

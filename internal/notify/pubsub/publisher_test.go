package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	data  [][]byte
	attrs []map[string]string
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.data = append(f.data, data)
	f.attrs = append(f.attrs, attrs)
	return "msg-1", nil
}

func TestNotifierPublishesEvent(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	n := New(pub, "reconcile", zap.NewNop())
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	n.Notify(context.Background(), "Neuer Kontakt in Brevo", "Email: a@example.com")

	require.Len(t, pub.data, 1)
	var evt Event
	require.NoError(t, json.Unmarshal(pub.data[0], &evt))
	require.Equal(t, Event{
		Subject: "Neuer Kontakt in Brevo",
		Body:    "Email: a@example.com",
		Source:  "reconcile",
		SentAt:  fixed,
	}, evt)
	require.Equal(t, "reconcile", pub.attrs[0]["source"])
}

func TestNotifierLogsPublishFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	n := New(&fakePublisher{err: errors.New("topic not found")}, "webhook", zap.New(core))
	n.Notify(context.Background(), "s", "b")

	require.Equal(t, 1, logs.FilterMessage("pubsub notification failed").Len())
}

func TestTopicPublisherRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := NewTopicPublisher(nil).Publish(context.Background(), []byte("x"), nil)
	require.Error(t, err)
}

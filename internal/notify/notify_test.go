package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMultiDeliversInOrder(t *testing.T) {
	t.Parallel()

	var got []string
	record := func(name string) Notifier {
		return Func(func(_ context.Context, subject, _ string) {
			got = append(got, name+":"+subject)
		})
	}

	n := Combine(record("email"), nil, record("pubsub"))
	n.Notify(context.Background(), "hello", "body")

	require.Equal(t, []string{"email:hello", "pubsub:hello"}, got)
}

func TestCombineSingle(t *testing.T) {
	t.Parallel()

	only := NewLog(zap.NewNop())
	require.Same(t, only, Combine(nil, only))
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	NewLog(zap.New(core)).Notify(context.Background(), "Neuer Kontakt in Brevo", "Email: a@example.com")

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	require.Equal(t, "Neuer Kontakt in Brevo", entries[0].ContextMap()["subject"])
}

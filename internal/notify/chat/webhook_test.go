package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWebhookPostsText(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook, err := New(srv.URL, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	hook.Notify(context.Background(), "🔜 Neuer Kontakt", "a@example.com (Firma: Acme) → Liste: newsletter_form_a")

	require.Equal(t, "🔜 Neuer Kontakt: a@example.com (Firma: Acme) → Liste: newsletter_form_a", got["text"])
}

func TestWebhookLogsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.InfoLevel)
	hook, err := New(srv.URL, srv.Client(), zap.New(core))
	require.NoError(t, err)
	hook.Notify(context.Background(), "s", "b")

	entries := logs.FilterMessage("chat notification failed").All()
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].ContextMap()["error"], "400")
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New("", nil, nil)
	require.Error(t, err)
}

func TestText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "s: b", Text("s", "b"))
	require.Equal(t, "b", Text("", "b"))
	require.Equal(t, "s", Text("s", ""))
}

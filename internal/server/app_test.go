package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/config"
	memorystorage "github.com/JakeFAU/crm-contact-sync/internal/storage/memory"
)

func newFakeCRM(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /contacts", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contacts":[{"id":1,"email":"a@b.de","attributes":{},"createdAt":"2020-01-01T00:00:00Z"}],"count":1}`))
	})
	mux.HandleFunc("POST /contacts", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":5}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, crmURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Server: config.ServerConfig{
			Port:              8000,
			ReadHeaderTimeout: time.Second,
			RequestTimeout:    10 * time.Second,
			ShutdownTimeout:   time.Second,
		},
		Brevo: config.BrevoConfig{
			BaseURL:   crmURL,
			APIKey:    "test-key",
			Timeout:   5 * time.Second,
			PageLimit: 500,
		},
		Retry: config.RetryConfig{MaxAttempts: 1},
		Store: config.StoreConfig{
			Backend: config.BackendSQLite,
			Table:   "submissions",
			SQLite:  config.SQLiteConfig{Path: filepath.Join(dir, "contacts.db"), BusyTimeout: time.Second},
		},
		Reconcile: config.ReconcileConfig{NewContactWindow: 24 * time.Hour},
		Report:    config.ReportConfig{Sink: config.SinkLocal, Dir: filepath.Join(dir, "reports"), Prefix: "reconcile"},
		Forms:     []config.FormMapping{{FormID: "newsletter_form_a", ListID: 12}},
	}
}

func TestBuildAndReconcile(t *testing.T) {
	t.Parallel()
	crm := newFakeCRM(t)
	cfg := testConfig(t, crm.URL)

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	summary, err := app.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Skipped)
	require.Zero(t, summary.New)
	require.NotEmpty(t, summary.RunID)

	reports, err := filepath.Glob(filepath.Join(cfg.Report.Dir, "reconcile", "*.json"))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, strings.HasSuffix(reports[0], summary.RunID+".json"))
}

func TestBuildRejectsInvalidTable(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Store.Table = "drop table;"

	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "sqlite submission log init failed")
}

func TestServeHandlesWebhookAndShutsDown(t *testing.T) {
	t.Parallel()
	crm := newFakeCRM(t)
	cfg := testConfig(t, crm.URL)

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln) }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/webhook", "application/json",
		strings.NewReader(`{"email":"a@b.de","company":"ACME","form_id":"newsletter_form_a"}`))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "ok", body["status"])
	require.Equal(t, map[string]any{"id": float64(5)}, body["brevo"])

	records, err := app.submissions.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "a@b.de", records[0].Email)
	require.Equal(t, "newsletter_form_a", records[0].ListName)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeRunsScheduler(t *testing.T) {
	t.Parallel()
	crm := newFakeCRM(t)
	cfg := testConfig(t, crm.URL)
	cfg.Reconcile.Interval = time.Hour

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		reports, _ := filepath.Glob(filepath.Join(cfg.Report.Dir, "reconcile", "*.json"))
		return len(reports) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestBuildWithMemoryBackends(t *testing.T) {
	t.Parallel()
	crm := newFakeCRM(t)
	cfg := testConfig(t, crm.URL)
	cfg.Store = config.StoreConfig{Backend: config.BackendMemory}
	cfg.Report = config.ReportConfig{Sink: config.SinkMemory, Prefix: "reconcile"}
	require.NoError(t, cfg.Validate())

	app, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	require.IsType(t, &memorystorage.SubmissionLog{}, app.submissions)

	req := httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(`{"email":"a@b.de","form_id":"newsletter_form_a"}`))
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	records, err := app.submissions.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	summary, err := app.Reconcile(context.Background())
	require.NoError(t, err)
	blobs, ok := app.reports.(*memorystorage.BlobStore)
	require.True(t, ok)
	require.Equal(t, 1, blobs.Len())
	_, found := blobs.Object("reconcile/" + summary.StartedAt.UTC().Format("20060102T150405Z") + "-" + summary.RunID + ".json")
	require.True(t, found)
}

package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crm-contact-sync/internal/reconcile"
	"github.com/JakeFAU/crm-contact-sync/internal/storage/memory"
)

func sampleSummary() reconcile.Summary {
	started := time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC)
	return reconcile.Summary{
		RunID:      "0190a1b2",
		Total:      4,
		New:        1,
		Linked:     2,
		Skipped:    2,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}
}

func TestObjectPath(t *testing.T) {
	t.Parallel()

	s := sampleSummary()
	require.Equal(t, "reports/reconcile/20240502T060000Z-0190a1b2.json", ObjectPath("reports/reconcile", s))
	s.RunID = ""
	require.Equal(t, "20240502T060000Z.json", ObjectPath("", s))
}

func TestBlobReporterUploadsSummary(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	reporter := NewBlob(blobs, "runs", zap.NewNop())
	require.NoError(t, reporter.Report(context.Background(), sampleSummary()))

	raw, ok := blobs.Object("runs/20240502T060000Z-0190a1b2.json")
	require.True(t, ok)
	var got reconcile.Summary
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, sampleSummary(), got)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("permission denied")
}

func TestBlobReporterPropagatesUploadError(t *testing.T) {
	t.Parallel()

	err := NewBlob(failingBlobs{}, "runs", nil).Report(context.Background(), sampleSummary())
	require.ErrorContains(t, err, "permission denied")
}

func TestLogReporter(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).Report(context.Background(), sampleSummary()))

	entries := logs.FilterMessage("reconciliation report").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "0190a1b2", fields["run_id"])
	require.EqualValues(t, 2, fields["linked"])
}

// Package report persists reconciliation run summaries.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/reconcile"
	"github.com/JakeFAU/crm-contact-sync/internal/store"
)

const contentType = "application/json"

// Log writes each summary as a structured log line.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a log reporter.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Report logs the summary.
func (l *Log) Report(_ context.Context, s reconcile.Summary) error {
	l.logger.Info("reconciliation report",
		zap.String("run_id", s.RunID),
		zap.Int("total", s.Total),
		zap.Int("new", s.New),
		zap.Int("linked", s.Linked),
		zap.Int("link_failures", s.LinkFailures),
		zap.Int("skipped", s.Skipped),
		zap.Int("companies_created", s.CompaniesCreated),
		zap.Time("started_at", s.StartedAt),
		zap.Duration("duration", s.FinishedAt.Sub(s.StartedAt)),
	)
	return nil
}

// Blob uploads each summary as a JSON object.
type Blob struct {
	blobs  store.BlobStore
	prefix string
	logger *zap.Logger
}

// NewBlob returns a reporter writing under prefix in blobs.
func NewBlob(blobs store.BlobStore, prefix string, logger *zap.Logger) *Blob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Blob{blobs: blobs, prefix: prefix, logger: logger}
}

// ObjectPath names the object for a summary: <prefix>/<started_at>-<run_id>.json.
func ObjectPath(prefix string, s reconcile.Summary) string {
	name := s.StartedAt.UTC().Format("20060102T150405Z")
	if s.RunID != "" {
		name += "-" + s.RunID
	}
	return path.Join(prefix, name+".json")
}

// Report marshals and uploads the summary.
func (b *Blob) Report(ctx context.Context, s reconcile.Summary) error {
	payload, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	objectPath := ObjectPath(b.prefix, s)
	uri, err := b.blobs.PutObject(ctx, objectPath, contentType, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("upload summary %s: %w", objectPath, err)
	}
	b.logger.Info("reconciliation report stored", zap.String("run_id", s.RunID), zap.String("uri", uri))
	return nil
}

// Package store defines the persistence interfaces used by the webhook service
// and the run reporter. Implementations live under internal/storage; this
// package must not import database drivers or concrete clients.
package store

import (
	"context"
	"fmt"
	"io"
	"regexp"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
)

// DefaultTable is the submission log table used when none is configured.
const DefaultTable = "submissions"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SubmissionLog is the append-only record of webhook submissions.
type SubmissionLog interface {
	// Append stores one submission. Record.ID is assigned by the backend.
	Append(ctx context.Context, record contact.SubmissionRecord) error
	// ListAll returns every submission, newest first.
	ListAll(ctx context.Context) ([]contact.SubmissionRecord, error)
}

// BlobStore writes opaque objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// TableName applies the default and rejects identifiers that are unsafe to
// interpolate into SQL.
func TableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

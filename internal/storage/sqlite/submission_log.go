// Package sqlite provides the default SQLite-backed submission log.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
	"github.com/JakeFAU/crm-contact-sync/internal/store"
)

// timestampLayout is fixed-width so that text ordering matches time ordering.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Config controls where the submission log lives.
type Config struct {
	Path  string
	Table string
	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
}

// Opener opens a database handle. It matches sql.Open.
type Opener func(driverName, dataSourceName string) (*sql.DB, error)

// SubmissionLog stores submissions in a SQLite file. A fresh handle is opened
// for every operation and closed afterwards.
type SubmissionLog struct {
	dsn   string
	table string
	open  Opener
}

var _ store.SubmissionLog = (*SubmissionLog)(nil)

// New creates the table if needed and returns the log.
func New(ctx context.Context, cfg Config) (*SubmissionLog, error) {
	return NewWithOpener(ctx, cfg, sql.Open)
}

// NewWithOpener is New with a custom opener (primarily for testing).
func NewWithOpener(ctx context.Context, cfg Config, open Opener) (*SubmissionLog, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	// Every operation opens a new handle, and each handle would get its own empty in-memory database.
	if strings.Contains(cfg.Path, ":memory:") || strings.Contains(cfg.Path, "mode=memory") {
		return nil, fmt.Errorf("sqlite path %q is in-memory; a file path is required", cfg.Path)
	}
	if open == nil {
		return nil, errors.New("opener is required")
	}
	table, err := store.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	s := &SubmissionLog{
		dsn:   fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", cfg.Path, busy.Milliseconds()),
		table: table,
		open:  open,
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SubmissionLog) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT,
	company TEXT,
	list_name TEXT,
	timestamp TEXT
)`, s.table)
	return s.withDB(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
		return nil
	})
}

// Append inserts a submission row.
func (s *SubmissionLog) Append(ctx context.Context, record contact.SubmissionRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (email, company, list_name, timestamp) VALUES (?, ?, ?, ?)`, s.table)
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.withDB(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query,
			record.Email,
			record.Company,
			record.ListName,
			ts.UTC().Format(timestampLayout),
		); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		return nil
	})
}

// ListAll returns every submission ordered by timestamp descending.
func (s *SubmissionLog) ListAll(ctx context.Context) ([]contact.SubmissionRecord, error) {
	query := fmt.Sprintf(`SELECT id, email, company, list_name, timestamp FROM %s ORDER BY timestamp DESC, id DESC`, s.table)
	var out []contact.SubmissionRecord
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query)
		if err != nil {
			return fmt.Errorf("query submissions: %w", err)
		}
		defer func() {
			_ = rows.Close()
		}()
		for rows.Next() {
			var rec contact.SubmissionRecord
			var email, company, listName, rawTS sql.NullString
			if err := rows.Scan(&rec.ID, &email, &company, &listName, &rawTS); err != nil {
				return fmt.Errorf("scan submission: %w", err)
			}
			rec.Email = email.String
			rec.Company = company.String
			rec.ListName = listName.String
			rec.Timestamp = parseTimestamp(rawTS.String)
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate submissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SubmissionLog) withDB(fn func(*sql.DB) error) (err error) {
	db, err := s.open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sqlite: %w", cerr)
		}
	}()
	return fn(db)
}

func parseTimestamp(raw string) time.Time {
	if ts, err := time.Parse(timestampLayout, raw); err == nil {
		return ts
	}
	if ts := contact.ParseTimestamp(raw); ts != nil {
		return *ts
	}
	return time.Time{}
}

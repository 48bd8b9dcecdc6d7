// Package postgres provides a Postgres-backed submission log.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
	"github.com/JakeFAU/crm-contact-sync/internal/store"
)

// Config controls the Postgres connection used for submission rows.
type Config struct {
	DSN   string
	Table string
}

// Conn is the subset of *pgx.Conn the log uses.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close(ctx context.Context) error
}

// Connector opens a single connection.
type Connector func(ctx context.Context, dsn string) (Conn, error)

// Connect dials Postgres with pgx.Connect.
func Connect(ctx context.Context, dsn string) (Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SubmissionLog writes submission rows into Postgres. Every operation opens
// its own connection; there is no pool.
type SubmissionLog struct {
	dsn     string
	table   string
	connect Connector
}

var _ store.SubmissionLog = (*SubmissionLog)(nil)

// New creates the table if needed and returns the log.
func New(ctx context.Context, cfg Config) (*SubmissionLog, error) {
	return NewWithConnector(ctx, cfg, Connect)
}

// NewWithConnector is New with a custom connector (primarily for testing).
func NewWithConnector(ctx context.Context, cfg Config, connect Connector) (*SubmissionLog, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.postgres.dsn is required")
	}
	if connect == nil {
		return nil, errors.New("connector is required")
	}
	table, err := store.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	s := &SubmissionLog{dsn: cfg.DSN, table: table, connect: connect}
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SubmissionLog) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	list_name TEXT NOT NULL,
	"timestamp" TIMESTAMPTZ NOT NULL
)`, s.table)
	return s.withConn(ctx, func(conn Conn) error {
		if _, err := conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("create table %s: %w", s.table, err)
		}
		return nil
	})
}

// Append inserts a submission row.
func (s *SubmissionLog) Append(ctx context.Context, record contact.SubmissionRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (email, company, list_name, "timestamp") VALUES ($1, $2, $3, $4)`, s.table)
	ts := record.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.withConn(ctx, func(conn Conn) error {
		if _, err := conn.Exec(ctx, query, record.Email, record.Company, record.ListName, ts.UTC()); err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
		return nil
	})
}

// ListAll returns every submission ordered by timestamp descending.
func (s *SubmissionLog) ListAll(ctx context.Context) ([]contact.SubmissionRecord, error) {
	query := fmt.Sprintf(`SELECT id, email, company, list_name, "timestamp" FROM %s ORDER BY "timestamp" DESC, id DESC`, s.table)
	var out []contact.SubmissionRecord
	err := s.withConn(ctx, func(conn Conn) error {
		rows, err := conn.Query(ctx, query)
		if err != nil {
			return fmt.Errorf("query submissions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var rec contact.SubmissionRecord
			if err := rows.Scan(&rec.ID, &rec.Email, &rec.Company, &rec.ListName, &rec.Timestamp); err != nil {
				return fmt.Errorf("scan submission: %w", err)
			}
			rec.Timestamp = rec.Timestamp.UTC()
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

func (s *SubmissionLog) withConn(ctx context.Context, fn func(Conn) error) (err error) {
	conn, err := s.connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer func() {
		if cerr := conn.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("close postgres connection: %w", cerr)
		}
	}()
	return fn(conn)
}

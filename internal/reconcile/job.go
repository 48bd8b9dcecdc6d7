// Package reconcile implements the batch pass that notifies about new
// contacts and links contacts to companies by name.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
	"github.com/JakeFAU/crm-contact-sync/internal/metrics"
	"github.com/JakeFAU/crm-contact-sync/internal/notify"
)

const (
	// DefaultNewContactWindow is how recent createdAt must be for a contact to count as new.
	DefaultNewContactWindow = 24 * time.Hour

	newContactSubject = "Neuer Kontakt in Brevo"
	unknownEmail      = "Unbekannt"
	noCompany         = "Kein Unternehmen"
)

// ErrLocked is returned when another process holds the run lock.
var ErrLocked = errors.New("reconciliation already running")

// Directory is the part of the CRM client the job needs. Lookups report
// failure as ok=false; the job logs and moves on.
type Directory interface {
	ListContacts(ctx context.Context, pageLimit int) []contact.Contact
	FindCompanyByName(ctx context.Context, name string) (contact.Company, bool)
	CreateCompany(ctx context.Context, name string) (contact.Company, bool)
	LinkContactToCompany(ctx context.Context, contactID int64, companyID string) bool
}

// Reporter receives the summary of every finished run.
type Reporter interface {
	Report(ctx context.Context, summary Summary) error
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes a Job.
type Config struct {
	NewContactWindow time.Duration
	PageLimit        int
	// LockFile, when set, makes runs exclusive across processes.
	LockFile string
}

// Summary describes one reconciliation run.
type Summary struct {
	RunID            string    `json:"run_id"`
	Total            int       `json:"total"`
	New              int       `json:"new"`
	Linked           int       `json:"linked"`
	LinkFailures     int       `json:"link_failures"`
	Skipped          int       `json:"skipped"`
	CompaniesCreated int       `json:"companies_created"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Job runs reconciliation passes.
type Job struct {
	dir      Directory
	notifier notify.Notifier
	reporter Reporter
	clock    contact.Clock
	ids      IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// Option customizes a Job.
type Option func(*Job)

// WithReporter sets the summary reporter.
func WithReporter(r Reporter) Option {
	return func(j *Job) {
		j.reporter = r
	}
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(j *Job) {
		j.ids = ids
	}
}

// New constructs a Job.
func New(dir Directory, notifier notify.Notifier, clock contact.Clock, cfg Config, logger *zap.Logger, opts ...Option) *Job {
	if cfg.NewContactWindow <= 0 {
		cfg.NewContactWindow = DefaultNewContactWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewLog(logger)
	}
	j := &Job{
		dir:      dir,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run performs a single pass over the contact list. Per-contact failures are
// logged and counted; only locking and cancellation end a run early.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	if j.cfg.LockFile != "" {
		lock := flock.New(j.cfg.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return Summary{}, fmt.Errorf("acquire lock %s: %w", j.cfg.LockFile, err)
		}
		if !locked {
			return Summary{}, ErrLocked
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				j.logger.Warn("release reconcile lock", zap.Error(err))
			}
		}()
	}

	summary := Summary{RunID: j.runID(), StartedAt: j.clock.Now()}
	logger := j.logger.With(zap.String("run_id", summary.RunID))
	logger.Info("reconciliation started")

	contacts := j.dir.ListContacts(ctx, j.cfg.PageLimit)
	summary.Total = len(contacts)
	if len(contacts) == 0 {
		logger.Warn("no contacts found")
	}

	companies := make(map[string]string)
	var runErr error
	for _, c := range contacts {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("reconciliation interrupted: %w", err)
			break
		}
		j.process(ctx, logger, c, companies, &summary)
	}

	summary.FinishedAt = j.clock.Now()
	metrics.ObserveReconcileRun(summary.FinishedAt.Sub(summary.StartedAt))
	logger.Info("reconciliation finished",
		zap.Int("total", summary.Total),
		zap.Int("new", summary.New),
		zap.Int("linked", summary.Linked),
		zap.Int("link_failures", summary.LinkFailures),
		zap.Int("skipped", summary.Skipped),
		zap.Int("companies_created", summary.CompaniesCreated),
	)
	if j.reporter != nil {
		if err := j.reporter.Report(ctx, summary); err != nil {
			logger.Warn("report reconciliation summary", zap.Error(err))
		}
	}
	return summary, runErr
}

func (j *Job) process(ctx context.Context, logger *zap.Logger, c contact.Contact, companies map[string]string, summary *Summary) {
	email := c.Email
	if email == "" {
		email = unknownEmail
	}
	logger = logger.With(zap.Int64("contact_id", c.ID), zap.String("email", email))
	companyName, hasCompany := c.CompanyName()

	if j.isNew(c) {
		summary.New++
		metrics.ObserveReconcileContact("new")
		logger.Info("new contact")
		label := companyName
		if !hasCompany {
			label = noCompany
		}
		j.notifier.Notify(ctx, newContactSubject,
			fmt.Sprintf("Neuer Kontakt hinzugefügt:\nEmail: %s\nUnternehmen: %s", email, label))
	}

	if !hasCompany {
		summary.Skipped++
		metrics.ObserveReconcileContact("no_company")
		logger.Info("no company attribute, skipping link")
		return
	}

	companyID, ok := companies[companyName]
	if !ok {
		company, resolved := j.resolveCompany(ctx, companyName, summary)
		if !resolved {
			summary.Skipped++
			metrics.ObserveReconcileContact("company_unresolved")
			logger.Warn("company could not be found or created, skipping link", zap.String("company", companyName))
			return
		}
		companyID = company.ID
		companies[companyName] = companyID
	}

	if j.dir.LinkContactToCompany(ctx, c.ID, companyID) {
		summary.Linked++
		metrics.ObserveReconcileContact("linked")
		return
	}
	summary.LinkFailures++
	metrics.ObserveReconcileContact("link_failed")
}

func (j *Job) resolveCompany(ctx context.Context, name string, summary *Summary) (contact.Company, bool) {
	if company, ok := j.dir.FindCompanyByName(ctx, name); ok {
		return company, true
	}
	company, ok := j.dir.CreateCompany(ctx, name)
	if ok {
		summary.CompaniesCreated++
	}
	return company, ok
}

func (j *Job) isNew(c contact.Contact) bool {
	if c.CreatedAt == nil {
		return false
	}
	return j.clock.Now().Sub(*c.CreatedAt) < j.cfg.NewContactWindow
}

func (j *Job) runID() string {
	if j.ids == nil {
		return ""
	}
	id, err := j.ids.NewID()
	if err != nil {
		j.logger.Warn("generate run id", zap.Error(err))
		return ""
	}
	return id
}

// Schedule runs the job immediately and then every interval until ctx ends.
// Runs never overlap because they execute on the calling goroutine.
func (j *Job) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := j.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			j.logger.Warn("scheduled reconciliation failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Package server builds the application's dependencies and runs its entry points.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crm-contact-sync/internal/api"
	"github.com/JakeFAU/crm-contact-sync/internal/clock/system"
	"github.com/JakeFAU/crm-contact-sync/internal/config"
	"github.com/JakeFAU/crm-contact-sync/internal/directory"
	"github.com/JakeFAU/crm-contact-sync/internal/id/uuid"
	"github.com/JakeFAU/crm-contact-sync/internal/notify"
	"github.com/JakeFAU/crm-contact-sync/internal/notify/chat"
	pubsubnotify "github.com/JakeFAU/crm-contact-sync/internal/notify/pubsub"
	smtpnotify "github.com/JakeFAU/crm-contact-sync/internal/notify/smtp"
	"github.com/JakeFAU/crm-contact-sync/internal/reconcile"
	"github.com/JakeFAU/crm-contact-sync/internal/report"
	gcsstorage "github.com/JakeFAU/crm-contact-sync/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crm-contact-sync/internal/storage/local"
	memorystorage "github.com/JakeFAU/crm-contact-sync/internal/storage/memory"
	pgstore "github.com/JakeFAU/crm-contact-sync/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/crm-contact-sync/internal/storage/sqlite"
	"github.com/JakeFAU/crm-contact-sync/internal/store"
)

const defaultShutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	directory       *directory.Client
	submissions     store.SubmissionLog
	reports         store.BlobStore
	apiServer       *api.Server
	job             *reconcile.Job
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("report_sink", cfg.Report.Sink),
	)

	app.directory = directory.New(directory.Config{
		BaseURL:       cfg.Brevo.BaseURL,
		APIKey:        cfg.Brevo.APIKey,
		Timeout:       cfg.Brevo.Timeout,
		PageLimit:     cfg.Brevo.PageLimit,
		RatePerSecond: cfg.Brevo.RatePerSecond,
		Burst:         cfg.Brevo.Burst,
		CompanyDomain: cfg.Brevo.CompanyDomain,
		CompanyType:   cfg.Brevo.CompanyType,
	}, cfg.RetryPolicy(), nil, logger.Named("directory"))

	events, err := app.setupPubSub(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	reconcileNotifier, err := app.reconcileNotifier(events)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	webhookNotifier, err := app.webhookNotifier(events)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.submissions, err = app.setupSubmissionLog(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	reporter, err := app.setupReporter(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	clock := system.New()
	app.job = reconcile.New(
		app.directory,
		reconcileNotifier,
		clock,
		reconcile.Config{
			NewContactWindow: cfg.Reconcile.NewContactWindow,
			PageLimit:        cfg.Brevo.PageLimit,
			LockFile:         cfg.Reconcile.LockFile,
		},
		logger.Named("reconcile"),
		reconcile.WithReporter(reporter),
		reconcile.WithIDGenerator(uuid.New()),
	)

	app.apiServer = api.NewServer(
		app.directory,
		webhookNotifier,
		app.submissions,
		clock,
		cfg,
		logger.Named("api"),
	)

	return app, nil
}

// Handler exposes the HTTP handler of the webhook service.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Reconcile performs one reconciliation pass.
func (a *App) Reconcile(ctx context.Context) (reconcile.Summary, error) {
	summary, err := a.job.Run(ctx)
	if err != nil {
		return summary, fmt.Errorf("reconcile: %w", err)
	}
	return summary, nil
}

// Serve runs the webhook service, and the reconcile scheduler when an
// interval is configured, until ctx is canceled or a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if interval := a.cfg.Reconcile.Interval; interval > 0 {
		g.Go(func() error {
			a.logger.Info("reconcile scheduler started", zap.Duration("interval", interval))
			return a.job.Schedule(gctx, interval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases clients held by the application.
func (a *App) Close() error {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func (a *App) setupPubSub(ctx context.Context) (pubsubnotify.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub topic configured")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = a.pubsubClient.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pubsubnotify.NewTopicPublisher(a.pubsubPublisher), nil
}

func (a *App) reconcileNotifier(events pubsubnotify.Publisher) (notify.Notifier, error) {
	var ns []notify.Notifier
	if a.cfg.SMTP.Host != "" {
		mail, err := smtpnotify.New(smtpnotify.Config{
			Host:        a.cfg.SMTP.Host,
			Port:        a.cfg.SMTP.Port,
			Username:    a.cfg.SMTP.Username,
			Password:    a.cfg.SMTP.Password,
			KeyringUser: a.cfg.SMTP.KeyringUser,
			Sender:      a.cfg.SMTP.Sender,
			Recipient:   a.cfg.SMTP.Recipient,
		}, a.logger.Named("smtp"))
		if err != nil {
			return nil, fmt.Errorf("smtp notifier init failed: %w", err)
		}
		ns = append(ns, mail)
	}
	if events != nil {
		ns = append(ns, pubsubnotify.New(events, "reconcile", a.logger.Named("pubsub")))
	}
	return a.combine("reconcile", ns), nil
}

func (a *App) webhookNotifier(events pubsubnotify.Publisher) (notify.Notifier, error) {
	var ns []notify.Notifier
	if a.cfg.Chat.WebhookURL != "" {
		hook, err := chat.New(a.cfg.Chat.WebhookURL, &http.Client{Timeout: a.cfg.Chat.Timeout}, a.logger.Named("chat"))
		if err != nil {
			return nil, fmt.Errorf("chat notifier init failed: %w", err)
		}
		ns = append(ns, hook)
	}
	if events != nil {
		ns = append(ns, pubsubnotify.New(events, "webhook", a.logger.Named("pubsub")))
	}
	return a.combine("webhook", ns), nil
}

func (a *App) combine(source string, ns []notify.Notifier) notify.Notifier {
	if len(ns) == 0 {
		a.logger.Warn("no notification channel configured, notifications are only logged", zap.String("source", source))
		return notify.NewLog(a.logger.Named("notify"))
	}
	return notify.Combine(ns...)
}

func (a *App) setupSubmissionLog(ctx context.Context) (store.SubmissionLog, error) {
	switch a.cfg.Store.Backend {
	case config.BackendMemory:
		a.logger.Warn("using in-memory submission log, submissions are lost on exit")
		return memorystorage.NewSubmissionLog(), nil
	case config.BackendPostgres:
		a.logger.Info("using postgres submission log", zap.String("table", a.cfg.Store.Table))
		s, err := pgstore.New(ctx, pgstore.Config{DSN: a.cfg.Store.Postgres.DSN, Table: a.cfg.Store.Table})
		if err != nil {
			return nil, fmt.Errorf("postgres submission log init failed: %w", err)
		}
		return s, nil
	default:
		a.logger.Info("using sqlite submission log",
			zap.String("path", a.cfg.Store.SQLite.Path),
			zap.String("table", a.cfg.Store.Table),
		)
		s, err := sqlitestore.New(ctx, sqlitestore.Config{
			Path:        a.cfg.Store.SQLite.Path,
			Table:       a.cfg.Store.Table,
			BusyTimeout: a.cfg.Store.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite submission log init failed: %w", err)
		}
		return s, nil
	}
}

func (a *App) setupReporter(ctx context.Context) (reconcile.Reporter, error) {
	switch a.cfg.Report.Sink {
	case config.SinkGCS:
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Report.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("writing run reports to GCS", zap.String("bucket", a.cfg.Report.Bucket))
		a.reports = blobs
		return report.NewBlob(blobs, a.cfg.Report.Prefix, a.logger.Named("report")), nil
	case config.SinkMemory:
		a.logger.Info("keeping run reports in memory")
		a.reports = memorystorage.NewBlobStore()
		return report.NewBlob(a.reports, a.cfg.Report.Prefix, a.logger.Named("report")), nil
	case config.SinkLocal:
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Report.Dir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("writing run reports to disk", zap.String("dir", a.cfg.Report.Dir))
		a.reports = blobs
		return report.NewBlob(blobs, a.cfg.Report.Prefix, a.logger.Named("report")), nil
	default:
		return report.NewLog(a.logger.Named("report")), nil
	}
}

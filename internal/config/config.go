// Package config loads and validates contactsync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/crm-contact-sync/internal/retry"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Brevo     BrevoConfig     `mapstructure:"brevo"`
	Retry     RetryConfig     `mapstructure:"retry"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Chat      ChatConfig      `mapstructure:"chat"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Store     StoreConfig     `mapstructure:"store"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	// Forms maps webhook form identifiers to CRM list IDs. Matching is exact.
	Forms []FormMapping `mapstructure:"forms"`
}

// FormMapping routes one webhook form to a CRM list.
type FormMapping struct {
	FormID string `mapstructure:"form_id"`
	ListID int    `mapstructure:"list_id"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
}

// BrevoConfig describes the CRM API.
type BrevoConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PageLimit     int           `mapstructure:"page_limit"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	CompanyDomain string        `mapstructure:"company_domain"`
	CompanyType   string        `mapstructure:"company_type"`
}

// RetryConfig shapes the upsert retry policy.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SMTPConfig configures the email notifier used by reconciliation.
type SMTPConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	KeyringUser string `mapstructure:"keyring_user"`
	Sender      string `mapstructure:"sender"`
	Recipient   string `mapstructure:"recipient"`
}

// ChatConfig configures the chat webhook notifier used by the webhook service.
type ChatConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PubSubConfig holds metadata for the optional notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StoreConfig selects the submission log backend.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Table    string         `mapstructure:"table"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// PostgresConfig holds the Postgres DSN.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ReconcileConfig tunes the batch job.
type ReconcileConfig struct {
	NewContactWindow time.Duration `mapstructure:"new_contact_window"`
	// Interval enables the in-process scheduler in serve when > 0.
	Interval time.Duration `mapstructure:"interval"`
	LockFile string        `mapstructure:"lock_file"`
}

// ReportConfig selects where run summaries are written.
type ReportConfig struct {
	Sink   string `mapstructure:"sink"`
	Bucket string `mapstructure:"bucket"`
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Store backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	// BackendMemory keeps submissions in process memory, for local development.
	BackendMemory = "memory"
)

// Report sinks.
const (
	SinkLog    = "log"
	SinkLocal  = "local"
	SinkGCS    = "gcs"
	SinkMemory = "memory"
)

// legacyEnv binds the unprefixed variable names used by existing deployments.
var legacyEnv = map[string]string{
	"brevo.api_key":    "BREVO_API_KEY",
	"smtp.host":        "SMTP_SERVER",
	"smtp.port":        "SMTP_PORT",
	"smtp.username":    "SMTP_USERNAME",
	"smtp.password":    "SMTP_PASSWORD",
	"smtp.sender":      "EMAIL_SENDER",
	"smtp.recipient":   "EMAIL_RECIPIENT",
	"chat.webhook_url": "TEAMS_WEBHOOK_URL",
	"server.port":      "PORT",
}

// Load builds a Config from .env files, an optional config file and the
// environment. Without envFiles, ".env" in the working directory is tried.
func Load(path string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("CONTACTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range legacyEnv {
		prefixed := "CONTACTSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.request_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("brevo.base_url", "https://api.brevo.com/v3")
	v.SetDefault("brevo.api_key", "")
	v.SetDefault("brevo.timeout", "15s")
	v.SetDefault("brevo.page_limit", 500)
	v.SetDefault("brevo.rate_per_second", 0)
	v.SetDefault("brevo.burst", 1)
	v.SetDefault("brevo.company_domain", "example.com")
	v.SetDefault("brevo.company_type", "customer")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.keyring_user", "")
	v.SetDefault("smtp.sender", "")
	v.SetDefault("smtp.recipient", "")
	v.SetDefault("chat.webhook_url", "")
	v.SetDefault("chat.timeout", "10s")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.table", "submissions")
	v.SetDefault("store.sqlite.path", "contacts.db")
	v.SetDefault("store.sqlite.busy_timeout", "5s")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("reconcile.new_contact_window", "24h")
	v.SetDefault("reconcile.interval", "0s")
	v.SetDefault("reconcile.lock_file", "")
	v.SetDefault("report.sink", SinkLog)
	v.SetDefault("report.bucket", "")
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.prefix", "reconcile")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("forms", []map[string]any{
		{"form_id": "newsletter_form_a", "list_id": 12},
		{"form_id": "kontaktformular_b", "list_id": 34},
	})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Brevo.APIKey) == "" {
		return fmt.Errorf("brevo.api_key is required (BREVO_API_KEY)")
	}
	if c.Brevo.Timeout <= 0 {
		return fmt.Errorf("brevo.timeout must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.SMTP.Host != "" && (c.SMTP.Sender == "" || c.SMTP.Recipient == "") {
		return fmt.Errorf("smtp.sender and smtp.recipient must be set when smtp.host is configured")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is configured")
	}
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite backend")
		}
		if isInMemorySQLite(c.Store.SQLite.Path) {
			return fmt.Errorf("store.sqlite.path must be a file: the database is reopened per operation, use store.backend=memory instead")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("store.backend must be one of sqlite, postgres, memory, got %q", c.Store.Backend)
	}
	if c.Reconcile.NewContactWindow <= 0 {
		return fmt.Errorf("reconcile.new_contact_window must be > 0")
	}
	if c.Reconcile.Interval < 0 {
		return fmt.Errorf("reconcile.interval must not be negative")
	}
	switch c.Report.Sink {
	case SinkLog, SinkMemory:
	case SinkLocal:
		if c.Report.Dir == "" {
			return fmt.Errorf("report.dir is required for the local sink")
		}
	case SinkGCS:
		if c.Report.Bucket == "" {
			return fmt.Errorf("report.bucket is required for the gcs sink")
		}
	default:
		return fmt.Errorf("report.sink must be one of log, local, gcs, memory, got %q", c.Report.Sink)
	}
	if len(c.Forms) == 0 {
		return fmt.Errorf("forms must map at least one form_id to a list id")
	}
	seen := make(map[string]struct{}, len(c.Forms))
	for i, f := range c.Forms {
		if strings.TrimSpace(f.FormID) == "" {
			return fmt.Errorf("forms[%d].form_id is required", i)
		}
		if f.ListID <= 0 {
			return fmt.Errorf("forms[%d] (%s) must have a positive list_id", i, f.FormID)
		}
		if _, dup := seen[f.FormID]; dup {
			return fmt.Errorf("forms[%d]: duplicate form_id %s", i, f.FormID)
		}
		seen[f.FormID] = struct{}{}
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if budget := c.WebhookBudget(); c.Server.RequestTimeout < budget {
		return fmt.Errorf("server.request_timeout %s is shorter than the webhook worst case %s (retries, chat and store timeouts)",
			c.Server.RequestTimeout, budget)
	}
	return nil
}

// WebhookBudget is the longest a webhook request can take: every upsert
// attempt timing out with the backoff between attempts, then the chat post
// and a store write waiting out its busy timeout.
func (c Config) WebhookBudget() time.Duration {
	attempts := max(c.Retry.MaxAttempts, 1)
	budget := time.Duration(attempts) * c.Brevo.Timeout
	backoff := retry.Exponential(c.Retry.BaseDelay, c.Retry.MaxDelay)
	for attempt := 1; attempt < attempts; attempt++ {
		budget += backoff(attempt)
	}
	if c.Chat.WebhookURL != "" {
		budget += c.Chat.Timeout
	}
	if c.Store.Backend == BackendSQLite {
		budget += c.Store.SQLite.BusyTimeout
	}
	return budget
}

func isInMemorySQLite(path string) bool {
	return strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
}

// RetryPolicy converts the retry settings into a policy value.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     retry.Exponential(c.Retry.BaseDelay, c.Retry.MaxDelay),
	}
}

// ListID resolves a form identifier to its CRM list. The match is exact.
func (c Config) ListID(formID string) (int, bool) {
	for _, f := range c.Forms {
		if f.FormID == formID {
			return f.ListID, true
		}
	}
	return 0, false
}

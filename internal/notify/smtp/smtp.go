// Package smtp delivers notifications as plain-text email over SMTP with
// STARTTLS and PLAIN authentication.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/JakeFAU/crm-contact-sync/internal/metrics"
)

// KeyringService is the OS keychain service the SMTP password is read from.
const KeyringService = "contactsync"

// Config describes the mail submission endpoint and envelope.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// KeyringUser selects a keychain entry when Password is empty.
	KeyringUser string
	Sender      string
	Recipient   string
}

// SendFunc submits a message. It matches go-smtp's SendMail.
type SendFunc func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error

// Notifier sends each notification as one email.
type Notifier struct {
	cfg    Config
	send   SendFunc
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithSendFunc replaces the SMTP submission call.
func WithSendFunc(send SendFunc) Option {
	return func(n *Notifier) {
		n.send = send
	}
}

// WithNow overrides the clock used for the Date header.
func WithNow(now func() time.Time) Option {
	return func(n *Notifier) {
		n.now = now
	}
}

// New validates cfg and returns an SMTP notifier.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Notifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.Sender == "" || cfg.Recipient == "" {
		return nil, errors.New("smtp sender and recipient are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		cfg:    cfg,
		send:   gosmtp.SendMail,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify builds and submits the email. Failures are logged.
func (n *Notifier) Notify(_ context.Context, subject, body string) {
	if err := n.deliver(subject, body); err != nil {
		metrics.ObserveNotification("email", "failed")
		n.logger.Error("email notification failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	metrics.ObserveNotification("email", "sent")
	n.logger.Info("email notification sent", zap.String("subject", subject))
}

func (n *Notifier) deliver(subject, body string) error {
	msg, err := n.buildMessage(subject, body)
	if err != nil {
		return err
	}
	var auth sasl.Client
	if n.cfg.Username != "" {
		password, err := n.password()
		if err != nil {
			return err
		}
		auth = sasl.NewPlainClient("", n.cfg.Username, password)
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.send(addr, auth, n.cfg.Sender, []string{n.cfg.Recipient}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("send mail via %s: %w", addr, err)
	}
	return nil
}

func (n *Notifier) password() (string, error) {
	if n.cfg.Password != "" || n.cfg.KeyringUser == "" {
		return n.cfg.Password, nil
	}
	secret, err := keyring.Get(KeyringService, n.cfg.KeyringUser)
	if err != nil {
		return "", fmt.Errorf("read smtp password from keyring: %w", err)
	}
	return secret, nil
}

func (n *Notifier) buildMessage(subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(n.now())
	h.SetAddressList("From", []*mail.Address{{Address: n.cfg.Sender}})
	h.SetAddressList("To", []*mail.Address{{Address: n.cfg.Recipient}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

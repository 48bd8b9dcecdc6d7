package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type sentMail struct {
	addr string
	auth sasl.Client
	from string
	to   []string
	raw  []byte
}

func captureSend(t *testing.T, sent *[]sentMail) SendFunc {
	t.Helper()
	return func(addr string, auth sasl.Client, from string, to []string, r io.Reader) error {
		raw, err := io.ReadAll(r)
		require.NoError(t, err)
		*sent = append(*sent, sentMail{addr: addr, auth: auth, from: from, to: to, raw: raw})
		return nil
	}
}

func baseConfig() Config {
	return Config{
		Host:      "smtp.example.com",
		Port:      587,
		Username:  "bot",
		Password:  "hunter2",
		Sender:    "bot@example.com",
		Recipient: "sales@example.com",
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)

	cfg := baseConfig()
	cfg.Recipient = ""
	_, err = New(cfg, nil)
	require.Error(t, err)
}

func TestNotifySendsMessage(t *testing.T) {
	t.Parallel()

	var sent []sentMail
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	n, err := New(baseConfig(), zap.NewNop(), WithSendFunc(captureSend(t, &sent)), WithNow(func() time.Time { return fixed }))
	require.NoError(t, err)

	n.Notify(context.Background(), "Neuer Kontakt in Brevo", "Neuer Kontakt hinzugefügt:\nEmail: a@example.com\nUnternehmen: Acme")

	require.Len(t, sent, 1)
	require.Equal(t, "smtp.example.com:587", sent[0].addr)
	require.Equal(t, "bot@example.com", sent[0].from)
	require.Equal(t, []string{"sales@example.com"}, sent[0].to)

	mech, ir, err := sent[0].auth.Start()
	require.NoError(t, err)
	require.Equal(t, sasl.Plain, mech)
	require.Equal(t, "\x00bot\x00hunter2", string(ir))

	r, err := mail.CreateReader(bytes.NewReader(sent[0].raw))
	require.NoError(t, err)
	subject, err := r.Header.Subject()
	require.NoError(t, err)
	require.Equal(t, "Neuer Kontakt in Brevo", subject)
	date, err := r.Header.Date()
	require.NoError(t, err)
	require.True(t, fixed.Equal(date))

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "hinzugefügt")
	require.Contains(t, string(body), "Unternehmen: Acme")
}

func TestNotifyLogsFailure(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	failing := func(string, sasl.Client, string, []string, io.Reader) error {
		return errors.New("connection refused")
	}
	n, err := New(baseConfig(), zap.New(core), WithSendFunc(failing))
	require.NoError(t, err)

	require.NotPanics(t, func() {
		n.Notify(context.Background(), "subject", "body")
	})
	require.Equal(t, 1, logs.FilterMessage("email notification failed").Len())
}

func TestPasswordFromKeyring(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set(KeyringService, "bot", "from-keychain"))

	cfg := baseConfig()
	cfg.Password = ""
	cfg.KeyringUser = "bot"

	var sent []sentMail
	n, err := New(cfg, zap.NewNop(), WithSendFunc(captureSend(t, &sent)))
	require.NoError(t, err)
	n.Notify(context.Background(), "subject", "body")

	require.Len(t, sent, 1)
	_, ir, err := sent[0].auth.Start()
	require.NoError(t, err)
	require.Equal(t, "\x00bot\x00from-keychain", string(ir))
}

func TestNoAuthWithoutUsername(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Username = ""
	var sent []sentMail
	n, err := New(cfg, zap.NewNop(), WithSendFunc(captureSend(t, &sent)))
	require.NoError(t, err)
	n.Notify(context.Background(), "subject", "body")

	require.Len(t, sent, 1)
	require.Nil(t, sent[0].auth)
}

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crm-contact-sync/internal/contact"
)

// mockConnector returns one pgxmock connection per connect call.
func mockConnector(t *testing.T, conns ...pgxmock.PgxConnIface) Connector {
	t.Helper()
	return func(_ context.Context, dsn string) (Conn, error) {
		require.Equal(t, "postgres://test", dsn)
		if len(conns) == 0 {
			return nil, errors.New("connection refused")
		}
		conn := conns[0]
		conns = conns[1:]
		return conn, nil
	}
}

func newCreateMock(t *testing.T, table string) pgxmock.PgxConnIface {
	t.Helper()
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS " + table).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectClose()
	return mock
}

func TestAppendInsertsRow(t *testing.T) {
	t.Parallel()

	create := newCreateMock(t, "submissions")
	insert, err := pgxmock.NewConn()
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	insert.ExpectExec(regexp.QuoteMeta(`INSERT INTO submissions (email, company, list_name, "timestamp")`)).
		WithArgs("a@example.com", "", "kontaktformular_b", ts.UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	insert.ExpectClose()

	log, err := NewWithConnector(context.Background(), Config{DSN: "postgres://test"}, mockConnector(t, create, insert))
	require.NoError(t, err)

	err = log.Append(context.Background(), contact.SubmissionRecord{
		Email:     "a@example.com",
		ListName:  "kontaktformular_b",
		Timestamp: ts,
	})
	require.NoError(t, err)
	require.NoError(t, create.ExpectationsWereMet())
	require.NoError(t, insert.ExpectationsWereMet())
}

func TestAppendPropagatesError(t *testing.T) {
	t.Parallel()

	create := newCreateMock(t, "contacts")
	insert, err := pgxmock.NewConn()
	require.NoError(t, err)
	insert.ExpectExec("INSERT INTO contacts").WillReturnError(errors.New("disk full"))
	insert.ExpectClose()

	log, err := NewWithConnector(context.Background(), Config{DSN: "postgres://test", Table: "contacts"}, mockConnector(t, create, insert))
	require.NoError(t, err)

	err = log.Append(context.Background(), contact.SubmissionRecord{Email: "a@example.com", Timestamp: time.Now()})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, insert.ExpectationsWereMet())
}

func TestListAllReturnsRows(t *testing.T) {
	t.Parallel()

	create := newCreateMock(t, "submissions")
	query, err := pgxmock.NewConn()
	require.NoError(t, err)

	newer := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	rows := pgxmock.NewRows([]string{"id", "email", "company", "list_name", "timestamp"}).
		AddRow(int64(2), "b@example.com", "Globex", "newsletter_form_a", newer).
		AddRow(int64(1), "a@example.com", "", "kontaktformular_b", older)
	query.ExpectQuery(regexp.QuoteMeta(`ORDER BY "timestamp" DESC, id DESC`)).WillReturnRows(rows)
	query.ExpectClose()

	log, err := NewWithConnector(context.Background(), Config{DSN: "postgres://test"}, mockConnector(t, create, query))
	require.NoError(t, err)

	got, err := log.ListAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []contact.SubmissionRecord{
		{ID: 2, Email: "b@example.com", Company: "Globex", ListName: "newsletter_form_a", Timestamp: newer},
		{ID: 1, Email: "a@example.com", Company: "", ListName: "kontaktformular_b", Timestamp: older},
	}, got)
	require.NoError(t, query.ExpectationsWereMet())
}

func TestListAllPropagatesQueryError(t *testing.T) {
	t.Parallel()

	create := newCreateMock(t, "submissions")
	query, err := pgxmock.NewConn()
	require.NoError(t, err)
	query.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))
	query.ExpectClose()

	log, err := NewWithConnector(context.Background(), Config{DSN: "postgres://test"}, mockConnector(t, create, query))
	require.NoError(t, err)

	_, err = log.ListAll(context.Background())
	require.ErrorContains(t, err, "relation does not exist")
}

func TestNewWithConnectorValidates(t *testing.T) {
	t.Parallel()

	_, err := NewWithConnector(context.Background(), Config{}, mockConnector(t))
	require.Error(t, err)

	_, err = NewWithConnector(context.Background(), Config{DSN: "postgres://test", Table: "x;drop"}, mockConnector(t))
	require.Error(t, err)

	_, err = NewWithConnector(context.Background(), Config{DSN: "postgres://test"}, mockConnector(t))
	require.ErrorContains(t, err, "connection refused")
}

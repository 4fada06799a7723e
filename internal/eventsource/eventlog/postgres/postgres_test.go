package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
)

var recordColumns = []string{"position", "stream_id", "revision", "record_id", "name", "data", "metadata", "recorded_at"}

func newMockLog(t *testing.T, opts ...Option) (*Log, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("open sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, opts...), mock
}

func expectLockedRevision(mock sqlmock.Sqlmock, stream string, last any) {
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).
		WithArgs(appendLockKey).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(revision) FROM log_records WHERE stream_id = $1")).
		WithArgs(stream).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(last))
}

func TestAppendFreshStream(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log, mock := newMockLog(t, WithNow(func() time.Time { return fixed }))

	first := eventlog.Proposed{ID: uuid.New(), Name: "cmd.account.create", Data: []byte(`{"pseudo":"bob"}`), Metadata: []byte(`{}`)}
	second := eventlog.Proposed{ID: uuid.New(), Name: "evt.account.created", Data: []byte(`{"pseudo":"bob"}`), Metadata: []byte(`{}`)}

	expectLockedRevision(mock, "account.1", nil)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO log_records")).
		WithArgs("account.1", int64(0), first.ID.String(), first.Name, first.Data, first.Metadata, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO log_records")).
		WithArgs("account.1", int64(1), second.ID.String(), second.Name, second.Data, second.Metadata, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_notify($1, $2)")).
		WithArgs(DefaultChannel, "account.1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rev, err := log.Append(context.Background(), "account.1", eventlog.NoStream, []eventlog.Proposed{first, second})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if rev != 1 {
		t.Fatalf("revision = %d, want 1", rev)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendStaleRevisionConflicts(t *testing.T) {
	log, mock := newMockLog(t)

	expectLockedRevision(mock, "bank.k", int64(4))
	mock.ExpectRollback()

	_, err := log.Append(context.Background(), "bank.k", 3, []eventlog.Proposed{{ID: uuid.New(), Name: "evt.bank.paid"}})
	if !errors.Is(err, eventlog.ErrRevisionConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendUniqueViolationConflicts(t *testing.T) {
	log, mock := newMockLog(t)

	expectLockedRevision(mock, "bank.k", nil)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO log_records")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := log.Append(context.Background(), "bank.k", eventlog.AnyRevision, []eventlog.Proposed{{ID: uuid.New(), Name: "tft.workers_assigned"}})
	if !errors.Is(err, eventlog.ErrRevisionConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestAppendInfrastructureError(t *testing.T) {
	log, mock := newMockLog(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := log.Append(context.Background(), "bank.k", eventlog.NoStream, []eventlog.Proposed{{ID: uuid.New(), Name: "evt.bank.joined"}})
	if err == nil || errors.Is(err, eventlog.ErrRevisionConflict) {
		t.Fatalf("error = %v, want infrastructure error", err)
	}
}

func TestReadScansRecords(t *testing.T) {
	log, mock := newMockLog(t)
	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(selectRecords+" WHERE stream_id = $1 AND revision > $2 ORDER BY revision")).
		WithArgs("bank.k", int64(-1)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(int64(7), "bank.k", int64(0), id.String(), "evt.bank.joined", []byte(`{}`), []byte(`{"is_event":true}`), at))

	records, err := log.Read(context.Background(), "bank.k", eventlog.NoStream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.ID != id || rec.Position != 7 || rec.Revision != 0 || rec.Name != "evt.bank.joined" {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.Timestamp.Equal(at) {
		t.Fatalf("timestamp = %v", rec.Timestamp)
	}
}

func TestSubscribeTypeStreamFetchesByName(t *testing.T) {
	log, mock := newMockLog(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(position), 0) FROM log_records")).
		WillReturnRows(sqlmock.NewRows([]string{"head"}).AddRow(int64(41)))
	mock.ExpectQuery(regexp.QuoteMeta(selectRecords+" WHERE name = $1 AND position > $2 ORDER BY position LIMIT $3")).
		WithArgs("ntf.bank.payment_done", int64(41), int64(fetchLimit)).
		WillReturnRows(sqlmock.NewRows(recordColumns).
			AddRow(int64(42), "bank.k", int64(3), id.String(), "ntf.bank.payment_done", []byte(`{}`), []byte(`{}`), time.Now()))

	sub, err := log.Subscribe(ctx, eventlog.TypeStream("ntf.bank.payment_done"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	rec, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if rec.ID != id || rec.StreamID != "bank.k" || rec.Revision != 3 {
		t.Fatalf("record = %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	log, mock := newMockLog(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS log_records")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := log.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

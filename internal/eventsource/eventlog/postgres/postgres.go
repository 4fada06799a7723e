// Package postgres provides an event log stored in PostgreSQL.
//
// Appends hold a transaction-level advisory lock so global positions become
// visible in commit order, and announce themselves with NOTIFY. A Log opened
// with Open listens on the channel and wakes its subscriptions, so writers in
// other processes are seen without polling.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
)

// DefaultChannel is the NOTIFY channel announcing appends.
const DefaultChannel = "royaumes_log"

// appendLockKey identifies the advisory lock serializing appends.
const appendLockKey int64 = 0x726f79

const fetchLimit = 500

//go:embed schema.sql
var schemaSQL string

// Option configures a Log.
type Option func(*Log)

// WithPollInterval makes subscriptions re-read the table periodically.
func WithPollInterval(interval time.Duration) Option {
	return func(l *Log) {
		l.poll = interval
	}
}

// WithChannel overrides the NOTIFY channel.
func WithChannel(channel string) Option {
	return func(l *Log) {
		if strings.TrimSpace(channel) != "" {
			l.channel = channel
		}
	}
}

// WithNow overrides the clock used for record timestamps.
func WithNow(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogf sets the logger used for listener events.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(l *Log) {
		if logf != nil {
			l.logf = logf
		}
	}
}

// Log is a PostgreSQL-backed eventlog.Log.
type Log struct {
	db       *sql.DB
	notifier *eventlog.Notifier
	listener *pq.Listener
	channel  string
	poll     time.Duration
	now      func() time.Time
	logf     func(format string, args ...any)

	closed   atomic.Bool
	listenWG sync.WaitGroup
}

// New wraps an open database. The schema must already exist; see EnsureSchema.
// Only appends made through this value wake its subscriptions unless a poll
// interval is set.
func New(db *sql.DB, opts ...Option) *Log {
	l := &Log{
		db:       db,
		notifier: eventlog.NewNotifier(),
		channel:  DefaultChannel,
		now:      time.Now,
		logf:     func(string, ...any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Open connects to dsn, creates the schema and listens for appends.
func Open(ctx context.Context, dsn string, opts ...Option) (*Log, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}

	l := New(db, opts...)
	if err := l.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	listener := pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, func(event pq.ListenerEventType, err error) {
		if err != nil {
			l.logf("postgres listener event %d: %v", event, err)
		}
	})
	if err := listener.Listen(l.channel); err != nil {
		_ = listener.Close()
		_ = db.Close()
		return nil, fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.listener = listener
	l.listenWG.Add(1)
	go l.forward()
	return l, nil
}

// forward turns NOTIFY deliveries into local wake-ups. A nil notification
// follows a reconnect, after which anything may have been missed.
func (l *Log) forward() {
	defer l.listenWG.Done()
	for range l.listener.Notify {
		l.notifier.Broadcast()
	}
}

// EnsureSchema creates the log table when missing.
func (l *Log) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure log schema: %w", err)
	}
	return nil
}

// Close stops the listener and closes the database.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if l.listener != nil {
		errs = append(errs, l.listener.Close())
		l.listenWG.Wait()
	}
	errs = append(errs, l.db.Close())
	l.notifier.Broadcast()
	return errors.Join(errs...)
}

// Append implements eventlog.Log.
func (l *Log) Append(ctx context.Context, stream string, expected eventlog.Revision, records []eventlog.Proposed) (eventlog.Revision, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.NoStream, err
	}
	if err := eventlog.Validate(stream, expected, records); err != nil {
		return eventlog.NoStream, err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return eventlog.NoStream, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
		return eventlog.NoStream, fmt.Errorf("lock log: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(revision) FROM log_records WHERE stream_id = $1", stream,
	).Scan(&last); err != nil {
		return eventlog.NoStream, fmt.Errorf("read stream revision: %w", err)
	}
	current := eventlog.NoStream
	if last.Valid {
		current = eventlog.Revision(last.Int64)
	}
	if expected != eventlog.AnyRevision && expected != current {
		return eventlog.NoStream, fmt.Errorf("%w: expected %d, current %d", eventlog.ErrRevisionConflict, expected, current)
	}

	recordedAt := l.now().UTC()
	for _, rec := range records {
		current++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO log_records (stream_id, revision, record_id, name, data, metadata, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			stream, int64(current), rec.ID.String(), rec.Name, nonNil(rec.Data), nonNil(rec.Metadata), recordedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return eventlog.NoStream, fmt.Errorf("%w: %v", eventlog.ErrRevisionConflict, err)
			}
			return eventlog.NoStream, fmt.Errorf("insert record: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", l.channel, stream); err != nil {
		return eventlog.NoStream, fmt.Errorf("notify append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return eventlog.NoStream, fmt.Errorf("commit: %w", err)
	}
	l.notifier.Broadcast()
	return current, nil
}

// Read implements eventlog.Log.
func (l *Log) Read(ctx context.Context, stream string, after eventlog.Revision) ([]eventlog.Record, error) {
	if stream == "" {
		return nil, eventlog.ErrStreamRequired
	}
	rows, err := l.db.QueryContext(ctx,
		selectRecords+" WHERE stream_id = $1 AND revision > $2 ORDER BY revision",
		stream, int64(after),
	)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, err)
	}
	return scanRecords(rows)
}

// Subscribe implements eventlog.Log.
func (l *Log) Subscribe(ctx context.Context, stream string) (eventlog.Subscription, error) {
	if stream == "" {
		return nil, eventlog.ErrStreamRequired
	}
	var head int64
	if err := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), 0) FROM log_records").Scan(&head); err != nil {
		return nil, fmt.Errorf("read log head: %w", err)
	}
	wake, unregister := l.notifier.Register()
	return eventlog.NewFeed(stream, head, l.fetch, wake, unregister, l.poll), nil
}

func (l *Log) fetch(ctx context.Context, stream string, after int64) ([]eventlog.Record, error) {
	if l.closed.Load() {
		return nil, eventlog.ErrClosed
	}
	var (
		rows *sql.Rows
		err  error
	)
	if name, ok := eventlog.ParseTypeStream(stream); ok {
		rows, err = l.db.QueryContext(ctx,
			selectRecords+" WHERE name = $1 AND position > $2 ORDER BY position LIMIT $3",
			name, after, fetchLimit,
		)
	} else {
		rows, err = l.db.QueryContext(ctx,
			selectRecords+" WHERE stream_id = $1 AND position > $2 ORDER BY position LIMIT $3",
			stream, after, fetchLimit,
		)
	}
	if err != nil {
		if l.closed.Load() {
			return nil, eventlog.ErrClosed
		}
		return nil, fmt.Errorf("follow %s: %w", stream, err)
	}
	return scanRecords(rows)
}

const selectRecords = `SELECT position, stream_id, revision, record_id, name, data, metadata, recorded_at FROM log_records`

func scanRecords(rows *sql.Rows) ([]eventlog.Record, error) {
	defer rows.Close()

	var records []eventlog.Record
	for rows.Next() {
		var (
			rec      eventlog.Record
			revision int64
			recordID string
		)
		if err := rows.Scan(&rec.Position, &rec.StreamID, &revision, &recordID, &rec.Name, &rec.Data, &rec.Metadata, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		id, err := uuid.Parse(recordID)
		if err != nil {
			return nil, fmt.Errorf("parse record id %q: %w", recordID, err)
		}
		rec.ID = id
		rec.Revision = eventlog.Revision(revision)
		rec.Timestamp = rec.Timestamp.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

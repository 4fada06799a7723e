// Package sqlite provides an event log stored in a SQLite database.
//
// Positions come from the AUTOINCREMENT key, so they never go back even when
// rows are deleted by hand. Writers in this process wake subscriptions
// directly; writers in other processes are only seen when a poll interval is
// configured.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog/sqlite/migrations"
	"github.com/Aedius/royaumes/internal/platform/storage/sqlitemigrate"
)

const fetchLimit = 500

// Option configures a Log.
type Option func(*Log)

// WithPollInterval makes subscriptions re-read the database periodically.
func WithPollInterval(interval time.Duration) Option {
	return func(l *Log) {
		l.poll = interval
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

// Log is a SQLite-backed eventlog.Log.
type Log struct {
	sqlDB    *sql.DB
	notifier *eventlog.Notifier
	poll     time.Duration
	now      func() time.Time
	closed   atomic.Bool
}

// Open opens the log database at path and applies its migrations.
func Open(path string, opts ...Option) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.LogFS, "log"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	l := &Log{
		sqlDB:    sqlDB,
		notifier: eventlog.NewNotifier(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l == nil || l.sqlDB == nil {
		return nil
	}
	l.closed.Store(true)
	err := l.sqlDB.Close()
	l.notifier.Broadcast()
	return err
}

// Append implements eventlog.Log.
func (l *Log) Append(ctx context.Context, stream string, expected eventlog.Revision, records []eventlog.Proposed) (eventlog.Revision, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.NoStream, err
	}
	if err := eventlog.Validate(stream, expected, records); err != nil {
		return eventlog.NoStream, err
	}

	tx, err := l.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return eventlog.NoStream, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(revision) FROM log_records WHERE stream_id = ?", stream,
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

	recordedAt := l.now().UTC().UnixMilli()
	for _, rec := range records {
		current++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO log_records (stream_id, revision, record_id, name, data, metadata, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			stream, int64(current), rec.ID.String(), rec.Name, nonNil(rec.Data), nonNil(rec.Metadata), recordedAt,
		); err != nil {
			if isConstraintError(err) {
				return eventlog.NoStream, fmt.Errorf("%w: %v", eventlog.ErrRevisionConflict, err)
			}
			return eventlog.NoStream, fmt.Errorf("insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isConstraintError(err) {
			return eventlog.NoStream, fmt.Errorf("%w: %v", eventlog.ErrRevisionConflict, err)
		}
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
	rows, err := l.sqlDB.QueryContext(ctx,
		selectRecords+" WHERE stream_id = ? AND revision > ? ORDER BY revision",
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
	if err := l.sqlDB.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), 0) FROM log_records").Scan(&head); err != nil {
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
		rows, err = l.sqlDB.QueryContext(ctx,
			selectRecords+" WHERE name = ? AND position > ? ORDER BY position LIMIT ?",
			name, after, fetchLimit,
		)
	} else {
		rows, err = l.sqlDB.QueryContext(ctx,
			selectRecords+" WHERE stream_id = ? AND position > ? ORDER BY position LIMIT ?",
			stream, after, fetchLimit,
		)
	}
	if err != nil {
		if l.closed.Load() {
			return nil, eventlog.ErrClosed
		}
		return nil, fmt.Errorf("follow %s: %w", stream, err)
	}
	records, err := scanRecords(rows)
	if err != nil && l.closed.Load() {
		return nil, eventlog.ErrClosed
	}
	return records, err
}

const selectRecords = `SELECT position, stream_id, revision, record_id, name, data, metadata, recorded_at FROM log_records`

func scanRecords(rows *sql.Rows) ([]eventlog.Record, error) {
	defer rows.Close()

	var records []eventlog.Record
	for rows.Next() {
		var (
			rec        eventlog.Record
			revision   int64
			recordID   string
			recordedAt int64
		)
		if err := rows.Scan(&rec.Position, &rec.StreamID, &revision, &recordID, &rec.Name, &rec.Data, &rec.Metadata, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		id, err := uuid.Parse(recordID)
		if err != nil {
			return nil, fmt.Errorf("parse record id %q: %w", recordID, err)
		}
		rec.ID = id
		rec.Revision = eventlog.Revision(revision)
		rec.Timestamp = time.UnixMilli(recordedAt).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}

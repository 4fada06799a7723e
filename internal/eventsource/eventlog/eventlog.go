// Package eventlog defines the append-only log the repository persists to.
//
// The log is the sole source of truth and the only synchronization point
// between writers: appends carry an expected revision and fail with
// ErrRevisionConflict when another writer got there first. Implementations
// live in subpackages (sqlite, postgres); Memory serves tests and
// single-process tools.
package eventlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TypeStreamPrefix marks a stream that indexes every record with one name
// across all streams. Subscribing to it yields the original records.
const TypeStreamPrefix = "$et-"

// Revision is the per-stream offset of a record, starting at zero.
type Revision int64

const (
	// NoStream is the position before the first record of a stream. As an
	// expected revision it requires the stream to not exist yet.
	NoStream Revision = -1
	// AnyRevision disables the append precondition.
	AnyRevision Revision = -2
)

var (
	// ErrRevisionConflict indicates the stream was not at the expected revision.
	ErrRevisionConflict = errors.New("stream revision conflict")
	// ErrStreamRequired indicates a missing stream name.
	ErrStreamRequired = errors.New("stream name is required")
	// ErrEmptyBatch indicates an append without records.
	ErrEmptyBatch = errors.New("append requires at least one record")
	// ErrClosed indicates the log or subscription was closed.
	ErrClosed = errors.New("event log is closed")
)

// Proposed is a record waiting to be appended.
type Proposed struct {
	ID       uuid.UUID
	Name     string
	Data     []byte
	Metadata []byte
}

// Record is a stored log record.
type Record struct {
	ID        uuid.UUID
	StreamID  string
	Revision  Revision
	Position  int64
	Name      string
	Data      []byte
	Metadata  []byte
	Timestamp time.Time
}

// Log is the append-only record store consumed by the repository.
type Log interface {
	// Append writes records atomically when the stream is at expected and
	// returns the revision of the last appended record.
	Append(ctx context.Context, stream string, expected Revision, records []Proposed) (Revision, error)
	// Read returns every record of the stream after the given revision, in
	// order, up to the current end.
	Read(ctx context.Context, stream string, after Revision) ([]Record, error)
	// Subscribe follows the stream from now on. Type streams resolve to the
	// original records.
	Subscribe(ctx context.Context, stream string) (Subscription, error)
	Close() error
}

// Subscription is a live, ordered feed of records.
type Subscription interface {
	// Next blocks until the next record is available or ctx ends.
	Next(ctx context.Context) (Record, error)
	Close() error
}

// TypeStream returns the stream name indexing every record named name.
func TypeStream(name string) string {
	return TypeStreamPrefix + name
}

// ParseTypeStream reports the record name indexed by a type stream.
func ParseTypeStream(stream string) (string, bool) {
	if !strings.HasPrefix(stream, TypeStreamPrefix) {
		return "", false
	}
	name := strings.TrimPrefix(stream, TypeStreamPrefix)
	return name, name != ""
}

// Validate checks an append request before it reaches storage.
func Validate(stream string, expected Revision, records []Proposed) error {
	if strings.TrimSpace(stream) == "" {
		return ErrStreamRequired
	}
	if _, ok := ParseTypeStream(stream); ok {
		return errors.New("type streams are read-only")
	}
	if expected < AnyRevision {
		return errors.New("invalid expected revision")
	}
	if len(records) == 0 {
		return ErrEmptyBatch
	}
	for _, rec := range records {
		if strings.TrimSpace(rec.Name) == "" {
			return errors.New("record name is required")
		}
	}
	return nil
}

// Matches reports whether a stored record belongs to the subscribed stream.
func Matches(stream string, rec Record) bool {
	if name, ok := ParseTypeStream(stream); ok {
		return rec.Name == name
	}
	return rec.StreamID == stream
}

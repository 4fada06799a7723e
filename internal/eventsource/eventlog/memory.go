package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Log.
type Memory struct {
	mu       sync.RWMutex
	records  []Record
	streams  map[string][]int
	notifier *Notifier
	closed   bool
	now      func() time.Time
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{
		streams:  make(map[string][]int),
		notifier: NewNotifier(),
		now:      time.Now,
	}
}

// Append implements Log.
func (m *Memory) Append(ctx context.Context, stream string, expected Revision, records []Proposed) (Revision, error) {
	if err := ctx.Err(); err != nil {
		return NoStream, err
	}
	if err := Validate(stream, expected, records); err != nil {
		return NoStream, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return NoStream, ErrClosed
	}
	indexes := m.streams[stream]
	current := Revision(len(indexes)) - 1
	if expected != AnyRevision && expected != current {
		m.mu.Unlock()
		return NoStream, fmt.Errorf("%w: expected %d, current %d", ErrRevisionConflict, expected, current)
	}
	timestamp := m.now().UTC()
	for _, proposed := range records {
		current++
		m.records = append(m.records, Record{
			ID:        proposed.ID,
			StreamID:  stream,
			Revision:  current,
			Position:  int64(len(m.records)) + 1,
			Name:      proposed.Name,
			Data:      append([]byte(nil), proposed.Data...),
			Metadata:  append([]byte(nil), proposed.Metadata...),
			Timestamp: timestamp,
		})
		indexes = append(indexes, len(m.records)-1)
	}
	m.streams[stream] = indexes
	m.mu.Unlock()

	m.notifier.Broadcast()
	return current, nil
}

// Read implements Log.
func (m *Memory) Read(ctx context.Context, stream string, after Revision) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if stream == "" {
		return nil, ErrStreamRequired
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	indexes := m.streams[stream]
	start := int(after + 1)
	if start < 0 {
		start = 0
	}
	if start >= len(indexes) {
		return nil, nil
	}
	result := make([]Record, 0, len(indexes)-start)
	for _, idx := range indexes[start:] {
		result = append(result, m.records[idx])
	}
	return result, nil
}

// Subscribe implements Log.
func (m *Memory) Subscribe(ctx context.Context, stream string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if stream == "" {
		return nil, ErrStreamRequired
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	wake, unregister := m.notifier.Register()
	return NewFeed(stream, int64(len(m.records)), m.fetch, wake, unregister, 0), nil
}

func (m *Memory) fetch(ctx context.Context, stream string, after int64) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var result []Record
	for _, rec := range m.records[after:] {
		if Matches(stream, rec) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// Close implements Log.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.notifier.Broadcast()
	return nil
}

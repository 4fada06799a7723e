// Package cache stores aggregate snapshots.
//
// The cache is an optimization only: losing or corrupting an entry never
// changes hydration results, it only forces a longer replay.
package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrMiss indicates no entry exists for a key.
var ErrMiss = errors.New("cache miss")

// Cache is a byte-oriented key/value store for snapshots.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Memory is an in-process cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Get implements Cache.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	return append([]byte(nil), value...), nil
}

// Set implements Cache.
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes an entry.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Clear removes every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
}

// Noop never stores anything; every read misses.
type Noop struct{}

// Get implements Cache.
func (Noop) Get(context.Context, string) ([]byte, error) {
	return nil, ErrMiss
}

// Set implements Cache.
func (Noop) Set(context.Context, string, []byte) error {
	return nil
}

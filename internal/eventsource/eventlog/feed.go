package eventlog

import (
	"context"
	"sync"
	"time"
)

// Notifier wakes live subscriptions after appends in this process.
type Notifier struct {
	mu      sync.Mutex
	waiters map[chan struct{}]struct{}
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{waiters: make(map[chan struct{}]struct{})}
}

// Register returns a wake channel and the function that releases it.
func (n *Notifier) Register() (<-chan struct{}, func()) {
	wake := make(chan struct{}, 1)
	n.mu.Lock()
	n.waiters[wake] = struct{}{}
	n.mu.Unlock()
	return wake, func() {
		n.mu.Lock()
		delete(n.waiters, wake)
		n.mu.Unlock()
	}
}

// Broadcast wakes every registered subscription without blocking.
func (n *Notifier) Broadcast() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for wake := range n.waiters {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Fetcher loads the records of stream whose global position is after the
// given one, ordered by position.
type Fetcher func(ctx context.Context, stream string, after int64) ([]Record, error)

// Feed is a Subscription that catches up through a Fetcher each time it is
// woken. Wake-ups may be spurious; delivery is driven by global positions so
// no record is skipped or repeated.
//
// Next must not be called concurrently.
type Feed struct {
	stream     string
	fetch      Fetcher
	wake       <-chan struct{}
	unregister func()
	interval   time.Duration

	last    int64
	pending []Record

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFeed starts a feed after the given global position. A positive poll
// interval also wakes the feed periodically, for writers outside this process.
func NewFeed(stream string, after int64, fetch Fetcher, wake <-chan struct{}, unregister func(), poll time.Duration) *Feed {
	return &Feed{
		stream:     stream,
		fetch:      fetch,
		wake:       wake,
		unregister: unregister,
		interval:   poll,
		last:       after,
		closed:     make(chan struct{}),
	}
}

// Next implements Subscription.
func (f *Feed) Next(ctx context.Context) (Record, error) {
	for {
		if len(f.pending) > 0 {
			rec := f.pending[0]
			f.pending = f.pending[1:]
			f.last = rec.Position
			return rec, nil
		}
		select {
		case <-f.closed:
			return Record{}, ErrClosed
		default:
		}
		if err := ctx.Err(); err != nil {
			return Record{}, err
		}

		records, err := f.fetch(ctx, f.stream, f.last)
		if err != nil {
			return Record{}, err
		}
		if len(records) > 0 {
			f.pending = records
			continue
		}

		if err := f.wait(ctx); err != nil {
			return Record{}, err
		}
	}
}

func (f *Feed) wait(ctx context.Context) error {
	var tick <-chan time.Time
	if f.interval > 0 {
		timer := time.NewTimer(f.interval)
		defer timer.Stop()
		tick = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.closed:
		return ErrClosed
	case <-f.wake:
	case <-tick:
	}
	return nil
}

// Close implements Subscription.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		if f.unregister != nil {
			f.unregister()
		}
	})
	return nil
}

// Package saga turns notifications appended by one aggregate into commands
// on others.
//
// A Dispatcher owns long-lived log subscriptions, usually on type streams, and
// hands every record to a handler in its own goroutine. Handlers built by
// Route decode the notification, resolve a follow-up command, optionally wait,
// and dispatch it with the notification as causal parent. Failures stay inside
// the handling goroutine and are only logged; there is no deduplication or
// redelivery.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
)

// Handler processes one record received from a subscription.
type Handler func(ctx context.Context, rec eventlog.Record)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogf sets the logger for handler failures.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(d *Dispatcher) {
		if logf != nil {
			d.logf = logf
		}
	}
}

// WithResumeBackOff sets the delay policy applied when a subscription fails
// to deliver its next record.
func WithResumeBackOff(newBackOff func() backoff.BackOff) Option {
	return func(d *Dispatcher) {
		if newBackOff != nil {
			d.newBackOff = newBackOff
		}
	}
}

// WithRateLimit caps how many handlers start per second across all
// subscriptions, with bursts of up to burst records. Records wait in their
// subscription meanwhile.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(d *Dispatcher) {
		if limit > 0 && burst > 0 {
			d.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

type route struct {
	stream  string
	handler Handler
}

// Dispatcher supervises subscriptions and the tasks they spawn.
type Dispatcher struct {
	log        eventlog.Log
	logf       func(format string, args ...any)
	newBackOff func() backoff.BackOff
	limiter    *rate.Limiter

	mu      sync.Mutex
	routes  []route
	group   *errgroup.Group
	started bool
}

// New creates a dispatcher reading from log.
func New(log eventlog.Log, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:  log,
		logf: func(string, ...any) {},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Logf logs through the dispatcher logger.
func (d *Dispatcher) Logf(format string, args ...any) {
	d.logf(format, args...)
}

// Handle registers handler for every record appended to stream after Start.
// It panics when called after Start.
func (d *Dispatcher) Handle(stream string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		panic("saga: Handle called after Start")
	}
	d.routes = append(d.routes, route{stream: stream, handler: handler})
}

// Streams lists the registered streams in registration order.
func (d *Dispatcher) Streams() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	streams := make([]string, 0, len(d.routes))
	for _, r := range d.routes {
		streams = append(streams, r.stream)
	}
	return streams
}

// Start opens every subscription before returning, so records appended
// afterwards are delivered, and spawns one reading loop per subscription.
// Loops and handler tasks stop when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("saga: dispatcher already started")
	}
	if d.log == nil {
		return errors.New("saga: event log is required")
	}

	subs := make([]eventlog.Subscription, 0, len(d.routes))
	for _, r := range d.routes {
		sub, err := d.log.Subscribe(ctx, r.stream)
		if err != nil {
			for _, opened := range subs {
				_ = opened.Close()
			}
			return fmt.Errorf("subscribe %s: %w", r.stream, err)
		}
		subs = append(subs, sub)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i, r := range d.routes {
		sub := subs[i]
		r := r
		group.Go(func() error {
			defer sub.Close()
			return d.consume(groupCtx, group, r, sub)
		})
	}
	d.group = group
	d.started = true
	return nil
}

// Wait blocks until every loop and task has stopped.
func (d *Dispatcher) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Run starts the dispatcher and waits for it to stop.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	return d.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, group *errgroup.Group, r route, sub eventlog.Subscription) error {
	resume := d.newBackOff()
	for {
		rec, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, eventlog.ErrClosed) {
				return nil
			}
			wait := resume.NextBackOff()
			if wait == backoff.Stop {
				return fmt.Errorf("follow %s: %w", r.stream, err)
			}
			d.logf("saga: follow %s: %v, resuming in %s", r.stream, err, wait)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		resume.Reset()

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		group.Go(func() error {
			r.handler(ctx, rec)
			return nil
		})
	}
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package repository

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxAttempts bounds the optimistic retry loop of Mutate.
const DefaultMaxAttempts = 64

// Option configures a Store.
type Option func(*options)

type options struct {
	maxAttempts    int
	newBackOff     func() backoff.BackOff
	lenient        bool
	logf           func(format string, args ...any)
	now            func() time.Time
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func defaultOptions() options {
	return options{
		maxAttempts: DefaultMaxAttempts,
		newBackOff:  conflictBackOff,
		logf:        func(string, ...any) {},
		now:         time.Now,
	}
}

// conflictBackOff spaces out retries after a revision conflict. Conflicts
// resolve as soon as the competing append lands, so intervals stay short.
func conflictBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = 250 * time.Millisecond
	return b
}

// WithMaxAttempts bounds the number of hydrate/decide/append attempts of one
// Mutate call. Zero retries until success or cancellation.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackOff sets the delay policy between conflicting attempts. The
// factory is called once per Mutate.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(o *options) {
		if newBackOff != nil {
			o.newBackOff = newBackOff
		}
	}
}

// WithLenientDecoding logs and skips records that cannot be decoded instead
// of failing hydration.
func WithLenientDecoding() Option {
	return func(o *options) {
		o.lenient = true
	}
}

// WithLogf sets the logger for skipped records, corrupt snapshots and retries.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(o *options) {
		if logf != nil {
			o.logf = logf
		}
	}
}

// WithNow sets the clock handed to command decisions.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTracerProvider sets the tracer provider; the global one is used by default.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = provider
	}
}

// WithMeterProvider sets the meter provider; the global one is used by default.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = provider
	}
}

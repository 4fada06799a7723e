// Package state defines the contract an aggregate implements to be stored by
// the repository.
//
// An aggregate is a plain struct whose zero value is its initial state. It
// declares closed sets of commands, events and notifications as interface
// types; every concrete variant carries a stable name that becomes part of
// the persisted record name.
package state

import "time"

// Variant is implemented by every concrete command, event, notification and
// transfert payload.
type Variant interface {
	VariantName() string
}

// Decision is the outcome of an accepted command.
type Decision[E, N Variant] struct {
	Events        []E
	Notifications []N
}

// Emit builds a decision from events only.
func Emit[E, N Variant](events ...E) Decision[E, N] {
	return Decision[E, N]{Events: events}
}

// Notify appends notifications to the decision.
func (d Decision[E, N]) Notify(notifications ...N) Decision[E, N] {
	d.Notifications = append(d.Notifications, notifications...)
	return d
}

// Empty reports whether the decision records nothing.
func (d Decision[E, N]) Empty() bool {
	return len(d.Events) == 0 && len(d.Notifications) == 0
}

// Aggregate is implemented by a pointer to the state struct S.
//
// TryCommand must not mutate the receiver; rejections are returned as errors
// and nothing is persisted. PlayEvent must be deterministic and infallible.
type Aggregate[S any, C, E, N Variant] interface {
	*S
	Namespace() string
	CachePolicy() CachePolicy
	Events() *Registry[E]
	Notifications() *Registry[N]
	TryCommand(cmd C, now time.Time) (Decision[E, N], error)
	PlayEvent(evt E)
}

// Replay folds events into the zero state.
func Replay[S any, P Aggregate[S, C, E, N], C, E, N Variant](events []E) S {
	var s S
	for _, evt := range events {
		P(&s).PlayEvent(evt)
	}
	return s
}

// CachePolicy controls snapshotting of an aggregate.
type CachePolicy struct {
	every int
}

// NoCache disables snapshots.
func NoCache() CachePolicy {
	return CachePolicy{}
}

// SnapshotEvery re-snapshots once more than n events were applied since the
// last snapshot read. Values below one disable snapshots.
func SnapshotEvery(n int) CachePolicy {
	if n < 1 {
		return NoCache()
	}
	return CachePolicy{every: n}
}

// Enabled reports whether snapshots are read and written.
func (p CachePolicy) Enabled() bool {
	return p.every > 0
}

// Interval returns the snapshot interval, zero when disabled.
func (p CachePolicy) Interval() int {
	return p.every
}

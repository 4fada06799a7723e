// Package repository loads and changes event-sourced aggregates.
//
// A Store rebuilds an aggregate by replaying the events of its stream on top
// of an optional cached snapshot (Hydrate), and changes it by deciding a
// command against the hydrated state and appending the command, its events
// and its notifications as one batch conditioned on the revision that was
// read (Mutate). A concurrent append makes the condition fail; Mutate then
// starts over from a fresh hydration. No lock is taken per key: the log is
// the only synchronization point.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Aedius/royaumes/internal/eventsource/cache"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/record"
	"github.com/Aedius/royaumes/internal/eventsource/state"
)

var (
	// ErrDecode indicates a stored record or metadata that does not decode.
	ErrDecode = errors.New("decode stored record")
	// ErrTooManyConflicts indicates Mutate lost every optimistic attempt.
	ErrTooManyConflicts = errors.New("too many revision conflicts")
	// ErrWrongNamespace indicates a key addressed to another aggregate type.
	ErrWrongNamespace = errors.New("key belongs to another namespace")
)

// Hydrated is an aggregate state with the revision of the last record read.
type Hydrated[S any] struct {
	State    S
	Position eventlog.Revision
}

// Store reads and writes aggregates of one type.
type Store[S any, P state.Aggregate[S, C, E, N], C, E, N state.Variant] struct {
	log   eventlog.Log
	cache cache.Cache
	opts  options
	inst  *instruments
}

// New builds a store on a log and a snapshot cache. A nil cache disables
// snapshots regardless of the aggregate's policy.
func New[S any, P state.Aggregate[S, C, E, N], C, E, N state.Variant](log eventlog.Log, snapshots cache.Cache, opts ...Option) (*Store[S, P, C, E, N], error) {
	if log == nil {
		return nil, fmt.Errorf("event log is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	inst, err := newInstruments(o)
	if err != nil {
		return nil, fmt.Errorf("init repository telemetry: %w", err)
	}
	if snapshots == nil {
		snapshots = cache.Noop{}
	}
	return &Store[S, P, C, E, N]{log: log, cache: snapshots, opts: o, inst: inst}, nil
}

// Namespace returns the namespace of the aggregate type.
func (s *Store[S, P, C, E, N]) Namespace() string {
	var zero S
	return P(&zero).Namespace()
}

// Key addresses the aggregate with the given id.
func (s *Store[S, P, C, E, N]) Key(id string) modelkey.Key {
	return modelkey.New(s.Namespace(), id)
}

// Notifications returns the notification registry of the aggregate type.
func (s *Store[S, P, C, E, N]) Notifications() *state.Registry[N] {
	var zero S
	return P(&zero).Notifications()
}

// Log returns the underlying event log.
func (s *Store[S, P, C, E, N]) Log() eventlog.Log {
	return s.log
}

// Hydrate returns the current state of the aggregate at key.
func (s *Store[S, P, C, E, N]) Hydrate(ctx context.Context, key modelkey.Key) (hydrated Hydrated[S], err error) {
	ctx, span := s.inst.start(ctx, "repository.Hydrate", key.String())
	defer func() { endSpan(span, err) }()
	return s.hydrate(ctx, key)
}

// Mutate decides cmd against the current state of key and appends the
// outcome, retrying from a fresh state after a revision conflict. Records
// continue the causal chain of parent, or start one when parent is nil.
//
// Domain rejections are returned unchanged and append nothing.
func (s *Store[S, P, C, E, N]) Mutate(ctx context.Context, key modelkey.Key, cmd C, parent *record.Metadata) (result S, err error) {
	ctx, span := s.inst.start(ctx, "repository.Mutate", key.String())
	defer func() { endSpan(span, err) }()

	if err := s.checkKey(key); err != nil {
		return result, err
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(s.opts.newBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.opts.logf("mutate %s: %v, retrying in %s", key, err, next)
		}),
	}
	if s.opts.maxAttempts > 0 {
		retryOpts = append(retryOpts, backoff.WithMaxTries(uint(s.opts.maxAttempts)))
	}

	result, err = backoff.Retry(ctx, func() (S, error) {
		return s.attempt(ctx, key, cmd, parent)
	}, retryOpts...)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		if errors.Is(err, eventlog.ErrRevisionConflict) {
			return result, fmt.Errorf("%w: %s after %d attempts: %w", ErrTooManyConflicts, key, s.opts.maxAttempts, err)
		}
		return result, err
	}
	return result, nil
}

// Dispatch mutates key and drops the resulting state.
func (s *Store[S, P, C, E, N]) Dispatch(ctx context.Context, key modelkey.Key, cmd C, parent *record.Metadata) error {
	_, err := s.Mutate(ctx, key, cmd, parent)
	return err
}

// attempt runs one hydrate, decide and append cycle. Only revision conflicts
// are returned as retryable errors.
func (s *Store[S, P, C, E, N]) attempt(ctx context.Context, key modelkey.Key, cmd C, parent *record.Metadata) (S, error) {
	var none S

	current, err := s.hydrate(ctx, key)
	if err != nil {
		return none, backoff.Permanent(err)
	}

	aggregate := P(&current.State)
	namespace := aggregate.Namespace()
	decision, err := aggregate.TryCommand(cmd, s.opts.now())
	if err != nil {
		s.inst.rejections.Add(ctx, 1, namespaceAttr(namespace))
		return none, backoff.Permanent(err)
	}

	batch := record.NewBatch(parent)
	if _, err := batch.Add(record.Name(record.KindCommand, namespace, cmd.VariantName()), cmd, false); err != nil {
		return none, backoff.Permanent(err)
	}
	for _, evt := range decision.Events {
		if _, err := batch.Add(record.Name(record.KindEvent, namespace, evt.VariantName()), evt, true); err != nil {
			return none, backoff.Permanent(err)
		}
	}
	for _, ntf := range decision.Notifications {
		if _, err := batch.Add(record.Name(record.KindNotification, namespace, ntf.VariantName()), ntf, false); err != nil {
			return none, backoff.Permanent(err)
		}
	}

	if _, err := s.log.Append(ctx, key.String(), current.Position, batch.Records()); err != nil {
		if errors.Is(err, eventlog.ErrRevisionConflict) {
			s.inst.conflicts.Add(ctx, 1, namespaceAttr(namespace))
			return none, err
		}
		return none, backoff.Permanent(fmt.Errorf("append to %s: %w", key, err))
	}
	s.inst.appended.Add(ctx, int64(batch.Len()), namespaceAttr(namespace))

	for _, evt := range decision.Events {
		aggregate.PlayEvent(evt)
	}
	return current.State, nil
}

func (s *Store[S, P, C, E, N]) hydrate(ctx context.Context, key modelkey.Key) (Hydrated[S], error) {
	current := Hydrated[S]{Position: eventlog.NoStream}
	if err := s.checkKey(key); err != nil {
		return current, err
	}

	aggregate := P(&current.State)
	namespace := aggregate.Namespace()
	policy := aggregate.CachePolicy()
	cacheKey := key.String()

	if policy.Enabled() {
		cached, ok, err := s.readSnapshot(ctx, cacheKey)
		if err != nil {
			return current, err
		}
		if ok {
			current = cached
			s.inst.cacheHits.Add(ctx, 1, namespaceAttr(namespace))
		} else {
			s.inst.cacheMisses.Add(ctx, 1, namespaceAttr(namespace))
		}
	}

	records, err := s.log.Read(ctx, key.String(), current.Position)
	if err != nil {
		return current, fmt.Errorf("read %s: %w", key, err)
	}

	aggregate = P(&current.State)
	events := aggregate.Events()
	applied := 0
	for _, rec := range records {
		evt, isEvent, err := decodeEvent(events, rec)
		if err != nil {
			if !s.opts.lenient {
				return Hydrated[S]{Position: eventlog.NoStream}, err
			}
			s.opts.logf("hydrate %s: skipping record %d: %v", key, rec.Revision, err)
		} else if isEvent {
			aggregate.PlayEvent(evt)
			applied++
		}
		current.Position = rec.Revision
	}
	s.inst.replayed.Add(ctx, int64(applied), namespaceAttr(namespace))

	if policy.Enabled() && applied > policy.Interval() {
		if err := s.writeSnapshot(ctx, cacheKey, current); err != nil {
			return current, err
		}
	}
	return current, nil
}

// decodeEvent reports whether rec is an event and decodes it when it is.
func decodeEvent[E state.Variant](events *state.Registry[E], rec eventlog.Record) (E, bool, error) {
	var none E
	meta, err := record.DecodeMetadata(rec)
	if err != nil {
		return none, false, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if !meta.IsEvent {
		return none, false, nil
	}
	envelope, err := record.ParseName(rec.Name)
	if err != nil {
		return none, false, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if envelope.Kind != record.KindEvent {
		return none, false, fmt.Errorf("%w: %s is flagged as an event", ErrDecode, rec.Name)
	}
	evt, err := events.Decode(envelope.Name, rec.Data)
	if err != nil {
		return none, false, fmt.Errorf("%w: %s@%d: %w", ErrDecode, rec.StreamID, rec.Revision, err)
	}
	return evt, true, nil
}

type snapshot struct {
	Position eventlog.Revision `json:"position"`
	State    json.RawMessage   `json:"state"`
}

// checkKey rejects incomplete keys and keys of another aggregate type.
func (s *Store[S, P, C, E, N]) checkKey(key modelkey.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	// Compared in stream form: keys parsed from stream names carry "_"
	// where the namespace has ".".
	if namespace := s.Namespace(); modelkey.New(namespace, key.ID).String() != key.String() {
		return fmt.Errorf("%w: %s is not a %s key", ErrWrongNamespace, key, namespace)
	}
	return nil
}

// readSnapshot returns the cached state. A corrupt entry, including one
// without a position or a state, counts as a miss.
func (s *Store[S, P, C, E, N]) readSnapshot(ctx context.Context, key string) (Hydrated[S], bool, error) {
	miss := Hydrated[S]{Position: eventlog.NoStream}
	data, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return miss, false, nil
	}
	if err != nil {
		return miss, false, fmt.Errorf("read snapshot %s: %w", key, err)
	}

	var snap struct {
		Position *eventlog.Revision `json:"position"`
		State    json.RawMessage    `json:"state"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		s.opts.logf("snapshot %s is corrupt, replaying: %v", key, err)
		return miss, false, nil
	}
	if snap.Position == nil || *snap.Position < eventlog.NoStream {
		s.opts.logf("snapshot %s has no valid position, replaying", key)
		return miss, false, nil
	}
	if len(snap.State) == 0 || string(snap.State) == "null" {
		s.opts.logf("snapshot %s has no state, replaying", key)
		return miss, false, nil
	}
	var restored S
	if err := json.Unmarshal(snap.State, &restored); err != nil {
		s.opts.logf("snapshot %s is corrupt, replaying: %v", key, err)
		return miss, false, nil
	}
	return Hydrated[S]{State: restored, Position: *snap.Position}, true, nil
}

func (s *Store[S, P, C, E, N]) writeSnapshot(ctx context.Context, key string, current Hydrated[S]) error {
	stateData, err := json.Marshal(current.State)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	data, err := json.Marshal(snapshot{Position: current.Position, State: stateData})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

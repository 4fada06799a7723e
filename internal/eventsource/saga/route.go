package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/record"
	"github.com/Aedius/royaumes/internal/eventsource/state"
)

// Skip is returned by a resolver to ignore a notification without logging.
var Skip = errors.New("saga: skip notification")

// Dispatch is the command a resolver derives from a notification.
type Dispatch[C any] struct {
	// Target is the aggregate receiving the command. The zero key targets the
	// aggregate that emitted the notification.
	Target  modelkey.Key
	Command C
	// Delay postpones the command. It is cancelled with the dispatcher.
	Delay time.Duration
}

// To sends cmd to target.
func To[C any](target modelkey.Key, cmd C) Dispatch[C] {
	return Dispatch[C]{Target: target, Command: cmd}
}

// Delay sends cmd back to the emitting aggregate once after has elapsed.
func Delay[C any](cmd C, after time.Duration) Dispatch[C] {
	return Dispatch[C]{Command: cmd, Delay: after}
}

// Sink executes commands against aggregates. repository.Store satisfies it.
type Sink[C any] interface {
	Dispatch(ctx context.Context, key modelkey.Key, cmd C, parent *record.Metadata) error
}

// Producer exposes the notifications an aggregate type can emit.
// repository.Store satisfies it.
type Producer[N state.Variant] interface {
	Namespace() string
	Notifications() *state.Registry[N]
}

// Source selects notifications of one aggregate type.
type Source[N state.Variant] struct {
	namespace string
	registry  *state.Registry[N]
	names     []string
}

// From selects the named notifications of producer, or all of them when no
// name is given. It panics on a name the producer does not register.
func From[N state.Variant](producer Producer[N], names ...string) Source[N] {
	registry := producer.Notifications()
	if len(names) == 0 {
		names = registry.Names()
	}
	for _, name := range names {
		if !registry.Has(name) {
			panic(fmt.Sprintf("saga: %s does not emit %q", producer.Namespace(), name))
		}
	}
	return Source[N]{namespace: producer.Namespace(), registry: registry, names: names}
}

// Namespace returns the namespace of the emitting aggregate type.
func (s Source[N]) Namespace() string {
	return s.namespace
}

// Streams returns the type streams carrying the selected notifications.
func (s Source[N]) Streams() []string {
	streams := make([]string, 0, len(s.names))
	for _, name := range s.names {
		streams = append(streams, eventlog.TypeStream(record.Name(record.KindNotification, s.namespace, name)))
	}
	return streams
}

// Notification is a decoded notification with its origin.
type Notification[N state.Variant] struct {
	Origin   modelkey.Key
	Payload  N
	Metadata record.Metadata
}

// Decode reads a notification record of this source.
func (s Source[N]) Decode(rec eventlog.Record) (Notification[N], error) {
	var none Notification[N]
	envelope, err := record.ParseName(rec.Name)
	if err != nil {
		return none, err
	}
	if envelope.Kind != record.KindNotification || envelope.Namespace != s.namespace {
		return none, fmt.Errorf("%s is not a %s notification", rec.Name, s.namespace)
	}
	parsed, err := modelkey.Parse(rec.StreamID)
	if err != nil {
		return none, fmt.Errorf("origin %q: %w", rec.StreamID, err)
	}
	payload, err := s.registry.Decode(envelope.Name, rec.Data)
	if err != nil {
		return none, err
	}
	meta, err := record.DecodeMetadata(rec)
	if err != nil {
		return none, err
	}
	return Notification[N]{
		Origin:   modelkey.New(s.namespace, parsed.ID),
		Payload:  payload,
		Metadata: meta,
	}, nil
}

// Resolver derives the follow-up command of a notification.
type Resolver[N state.Variant, C any] func(ctx context.Context, origin modelkey.Key, ntf N) (Dispatch[C], error)

// Route dispatches a command to target for every notification of source.
// The command continues the causal chain of the notification.
func Route[N state.Variant, C any](d *Dispatcher, source Source[N], target Sink[C], resolve Resolver[N, C]) {
	for _, stream := range source.Streams() {
		stream := stream
		d.Handle(stream, func(ctx context.Context, rec eventlog.Record) {
			if err := deliver(ctx, source, target, resolve, rec); err != nil {
				d.Logf("saga: %s@%d from %s: %v", rec.StreamID, rec.Revision, stream, err)
			}
		})
	}
}

func deliver[N state.Variant, C any](ctx context.Context, source Source[N], target Sink[C], resolve Resolver[N, C], rec eventlog.Record) error {
	ntf, err := source.Decode(rec)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	dispatch, err := resolve(ctx, ntf.Origin, ntf.Payload)
	if errors.Is(err, Skip) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	key := dispatch.Target
	if key.IsZero() {
		key = ntf.Origin
	}
	if !sleep(ctx, dispatch.Delay) {
		return nil
	}
	if err := target.Dispatch(ctx, key, dispatch.Command, &ntf.Metadata); err != nil {
		return fmt.Errorf("dispatch to %s: %w", key, err)
	}
	return nil
}

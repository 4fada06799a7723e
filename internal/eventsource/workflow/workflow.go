// Package workflow carries requests between services that share an event log
// but not a process.
//
// A transfert is a payload addressed to one aggregate. Send appends it to the
// target's stream as a tft.<name> record without touching the target's
// revision check. The receiving service follows the tft type streams it
// accepts and turns each transfert into a command on its target (Accept).
// Respond is the outgoing half: a local notification becomes a transfert.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/record"
	"github.com/Aedius/royaumes/internal/eventsource/saga"
	"github.com/Aedius/royaumes/internal/eventsource/state"
)

// Transfert is a cross-service payload addressed to one aggregate.
type Transfert interface {
	state.Variant
	Target() modelkey.Key
}

// Stream returns the type stream carrying transferts named name.
func Stream(name string) string {
	return eventlog.TypeStream(record.TransfertName(name))
}

// Send appends t to its target's stream, continuing the chain of parent.
func Send(ctx context.Context, log eventlog.Log, t Transfert, parent *record.Metadata) (record.Metadata, error) {
	target := t.Target()
	if err := target.Validate(); err != nil {
		return record.Metadata{}, fmt.Errorf("send %s: %w", t.VariantName(), err)
	}
	batch := record.NewBatch(parent)
	meta, err := batch.Add(record.TransfertName(t.VariantName()), t, false)
	if err != nil {
		return record.Metadata{}, err
	}
	if _, err := log.Append(ctx, target.String(), eventlog.AnyRevision, batch.Records()); err != nil {
		return record.Metadata{}, fmt.Errorf("send %s to %s: %w", t.VariantName(), target, err)
	}
	return meta, nil
}

// Decode reads a transfert record registered in inputs.
func Decode[T Transfert](inputs *state.Registry[T], rec eventlog.Record) (T, record.Metadata, error) {
	var none T
	envelope, err := record.ParseName(rec.Name)
	if err != nil {
		return none, record.Metadata{}, err
	}
	if envelope.Kind != record.KindTransfert {
		return none, record.Metadata{}, fmt.Errorf("%s is not a transfert", rec.Name)
	}
	t, err := inputs.Decode(envelope.Name, rec.Data)
	if err != nil {
		return none, record.Metadata{}, err
	}
	meta, err := record.DecodeMetadata(rec)
	if err != nil {
		return none, record.Metadata{}, err
	}
	return t, meta, nil
}

// Accept turns every transfert registered in inputs into a command on the
// transfert's target. command may return saga.Skip.
func Accept[T Transfert, C any](d *saga.Dispatcher, inputs *state.Registry[T], target saga.Sink[C], command func(ctx context.Context, t T) (C, error)) {
	for _, name := range inputs.Names() {
		stream := Stream(name)
		d.Handle(stream, func(ctx context.Context, rec eventlog.Record) {
			if err := accept(ctx, inputs, target, command, rec); err != nil {
				d.Logf("workflow: %s@%d from %s: %v", rec.StreamID, rec.Revision, stream, err)
			}
		})
	}
}

func accept[T Transfert, C any](ctx context.Context, inputs *state.Registry[T], target saga.Sink[C], command func(context.Context, T) (C, error), rec eventlog.Record) error {
	t, meta, err := Decode(inputs, rec)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	cmd, err := command(ctx, t)
	if errors.Is(err, saga.Skip) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	key := t.Target()
	if err := target.Dispatch(ctx, key, cmd, &meta); err != nil {
		return fmt.Errorf("dispatch to %s: %w", key, err)
	}
	return nil
}

// Respond sends the transfert derived from every notification of source.
// response may return saga.Skip.
func Respond[N state.Variant, T Transfert](d *saga.Dispatcher, log eventlog.Log, source saga.Source[N], response func(ctx context.Context, origin modelkey.Key, ntf N) (T, error)) {
	for _, stream := range source.Streams() {
		stream := stream
		d.Handle(stream, func(ctx context.Context, rec eventlog.Record) {
			if err := respond(ctx, log, source, response, rec); err != nil {
				d.Logf("workflow: %s@%d from %s: %v", rec.StreamID, rec.Revision, stream, err)
			}
		})
	}
}

func respond[N state.Variant, T Transfert](ctx context.Context, log eventlog.Log, source saga.Source[N], response func(context.Context, modelkey.Key, N) (T, error), rec eventlog.Record) error {
	ntf, err := source.Decode(rec)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	t, err := response(ctx, ntf.Origin, ntf.Payload)
	if errors.Is(err, saga.Skip) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	_, err = Send(ctx, log, t, &ntf.Metadata)
	return err
}

// Distant is one service's side of a cross-service conversation: the
// transferts it accepts and the transferts it answers with.
type Distant[T Transfert, C any, N state.Variant, R Transfert] struct {
	Inputs   *state.Registry[T]
	Target   saga.Sink[C]
	Command  func(ctx context.Context, t T) (C, error)
	Source   saga.Source[N]
	Response func(ctx context.Context, origin modelkey.Key, ntf N) (R, error)
}

// Listen registers both halves of service on d.
func Listen[T Transfert, C any, N state.Variant, R Transfert](d *saga.Dispatcher, log eventlog.Log, service Distant[T, C, N, R]) {
	Accept[T, C](d, service.Inputs, service.Target, service.Command)
	Respond[N, R](d, log, service.Source, service.Response)
}

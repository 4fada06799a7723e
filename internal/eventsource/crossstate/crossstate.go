// Package crossstate lets one aggregate ask another a question and receive
// the answer as a command.
//
// The questioner emits a question notification. Ask turns it into a command
// on the answerer, which carries the questioner's key as its return address.
// The answerer emits an answer notification holding that address, and Reply
// turns it into a command on the questioner. Both legs continue the causal
// chain of the original command.
package crossstate

import (
	"context"
	"errors"

	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/saga"
	"github.com/Aedius/royaumes/internal/eventsource/state"
)

// ErrNoAddress indicates a question or answer resolved to no target.
var ErrNoAddress = errors.New("crossstate: target key is required")

// Question maps a question emitted by questioner to the answerer's key and
// the command it receives.
type Question[N state.Variant, C any] func(ctx context.Context, questioner modelkey.Key, question N) (modelkey.Key, C, error)

// Answer maps an answer to the questioner's key and the command it receives.
type Answer[N state.Variant, C any] func(ctx context.Context, answer N) (modelkey.Key, C, error)

// Ask registers the question leg.
func Ask[N state.Variant, C any](d *saga.Dispatcher, questions saga.Source[N], answerer saga.Sink[C], ask Question[N, C]) {
	saga.Route[N, C](d, questions, answerer, func(ctx context.Context, origin modelkey.Key, ntf N) (saga.Dispatch[C], error) {
		key, cmd, err := ask(ctx, origin, ntf)
		return addressed(key, cmd, err)
	})
}

// Reply registers the answer leg.
func Reply[N state.Variant, C any](d *saga.Dispatcher, answers saga.Source[N], questioner saga.Sink[C], reply Answer[N, C]) {
	saga.Route[N, C](d, answers, questioner, func(ctx context.Context, _ modelkey.Key, ntf N) (saga.Dispatch[C], error) {
		key, cmd, err := reply(ctx, ntf)
		return addressed(key, cmd, err)
	})
}

func addressed[C any](key modelkey.Key, cmd C, err error) (saga.Dispatch[C], error) {
	if err != nil {
		return saga.Dispatch[C]{}, err
	}
	if err := key.Validate(); err != nil {
		return saga.Dispatch[C]{}, errors.Join(ErrNoAddress, err)
	}
	return saga.To(key, cmd), nil
}

// Exchange binds both legs of a question and answer between two aggregate
// types.
type Exchange[QN, AN state.Variant, QC, AC any] struct {
	Questions  saga.Source[QN]
	Answerer   saga.Sink[AC]
	Ask        Question[QN, AC]
	Answers    saga.Source[AN]
	Questioner saga.Sink[QC]
	Reply      Answer[AN, QC]
}

// Register adds both legs to d.
func (e Exchange[QN, AN, QC, AC]) Register(d *saga.Dispatcher) {
	Ask[QN, AC](d, e.Questions, e.Answerer, e.Ask)
	Reply[AN, QC](d, e.Answers, e.Questioner, e.Reply)
}

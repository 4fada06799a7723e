// Package domain holds the bank aggregate: the gold reserve of a kingdom and
// the number of players sharing it.
package domain

import (
	"strconv"
	"time"

	"github.com/Aedius/royaumes/internal/eventsource/cache"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/repository"
	"github.com/Aedius/royaumes/internal/eventsource/state"
	apperrors "github.com/Aedius/royaumes/internal/platform/errors"
	"github.com/Aedius/royaumes/internal/services/shared/quantity"
)

const Namespace = "bank"

type Command interface{ state.Variant }
type Event interface{ state.Variant }
type Notification interface{ state.Variant }

type Join struct{}

func (Join) VariantName() string { return "join" }

type Leave struct{}

func (Leave) VariantName() string { return "leave" }

type Deposit struct {
	Gold uint64 `json:"gold"`
}

func (Deposit) VariantName() string { return "deposit" }

// Pay withdraws Amount. When RespondTo is set, a PaymentDone notification
// addressed to it is emitted.
type Pay struct {
	Amount    uint64       `json:"amount"`
	RespondTo modelkey.Key `json:"respond_to"`
}

func (Pay) VariantName() string { return "pay" }

type Joined struct{}

func (Joined) VariantName() string { return "joined" }

type Left struct{}

func (Left) VariantName() string { return "left" }

type Deposited struct {
	Gold uint64 `json:"gold"`
}

func (Deposited) VariantName() string { return "deposited" }

type Paid struct {
	Amount uint64 `json:"amount"`
}

func (Paid) VariantName() string { return "paid" }

// PaymentDone answers a payment request.
type PaymentDone struct {
	Amount    uint64       `json:"amount"`
	RespondTo modelkey.Key `json:"respond_to"`
}

func (PaymentDone) VariantName() string { return "payment_done" }

var (
	events        = state.NewRegistry[Event]()
	notifications = state.NewRegistry[Notification]()
)

func init() {
	state.Register[Joined](events)
	state.Register[Left](events)
	state.Register[Deposited](events)
	state.Register[Paid](events)
	state.Register[PaymentDone](notifications)
}

// Bank is the state of one bank.
type Bank struct {
	Players uint64 `json:"players"`
	Gold    uint64 `json:"gold"`
}

func (*Bank) Namespace() string { return Namespace }

// CachePolicy snapshots after every replayed event: banks are hot keys.
func (*Bank) CachePolicy() state.CachePolicy { return state.SnapshotEvery(1) }

func (*Bank) Events() *state.Registry[Event] { return events }

func (*Bank) Notifications() *state.Registry[Notification] { return notifications }

func (b *Bank) TryCommand(cmd Command, _ time.Time) (state.Decision[Event, Notification], error) {
	var none state.Decision[Event, Notification]
	switch cmd := cmd.(type) {
	case Join:
		if _, err := quantity.Add(b.Players, 1); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](Joined{}), nil
	case Leave:
		if _, err := quantity.Sub(b.Players, 1); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](Left{}), nil
	case Deposit:
		if _, err := quantity.Add(b.Gold, cmd.Gold); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](Deposited(cmd)), nil
	case Pay:
		if cmd.Amount > b.Gold {
			return none, apperrors.WithMetadata(apperrors.CodeBankInsufficientGold, "insufficient gold",
				map[string]string{
					"Gold":   strconv.FormatUint(b.Gold, 10),
					"Amount": strconv.FormatUint(cmd.Amount, 10),
				})
		}
		decision := state.Emit[Event, Notification](Paid{Amount: cmd.Amount})
		if !cmd.RespondTo.IsZero() {
			decision = decision.Notify(PaymentDone(cmd))
		}
		return decision, nil
	}
	name := "<nil>"
	if cmd != nil {
		name = cmd.VariantName()
	}
	return none, apperrors.WithMetadata(apperrors.CodeInvalidCommand, "unknown bank command "+name,
		map[string]string{"Command": name})
}

func (b *Bank) PlayEvent(evt Event) {
	switch evt := evt.(type) {
	case Joined:
		b.Players++
	case Left:
		b.Players--
	case Deposited:
		b.Gold += evt.Gold
	case Paid:
		b.Gold -= evt.Amount
	}
}

type Store = repository.Store[Bank, *Bank, Command, Event, Notification]

func NewStore(log eventlog.Log, snapshots cache.Cache, opts ...repository.Option) (*Store, error) {
	return repository.New[Bank, *Bank, Command, Event, Notification](log, snapshots, opts...)
}

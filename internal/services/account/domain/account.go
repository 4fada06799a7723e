// Package domain holds the account aggregate: a player's identity and
// reputation.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/Aedius/royaumes/internal/eventsource/cache"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/repository"
	"github.com/Aedius/royaumes/internal/eventsource/state"
	apperrors "github.com/Aedius/royaumes/internal/platform/errors"
	"github.com/Aedius/royaumes/internal/services/shared/quantity"
)

// Namespace prefixes every account stream.
const Namespace = "account"

// SnapshotInterval is the number of replayed events after which the account
// is cached again.
const SnapshotInterval = 20

// Command is a request to change an account.
type Command interface{ state.Variant }

// Event is a recorded account change.
type Event interface{ state.Variant }

// Notification is never emitted by accounts; the type exists to satisfy the
// aggregate contract.
type Notification interface{ state.Variant }

// CreateAccount registers the pseudo. UUID is generated when empty.
type CreateAccount struct {
	Pseudo string     `json:"pseudo"`
	UUID   *uuid.UUID `json:"uuid,omitempty"`
}

func (CreateAccount) VariantName() string { return "create_account" }

// Login records a login at decision time.
type Login struct{}

func (Login) VariantName() string { return "login" }

// AddReputation raises reputation by Quantity.
type AddReputation struct {
	Quantity uint64 `json:"quantity"`
}

func (AddReputation) VariantName() string { return "add_reputation" }

// RemoveReputation lowers reputation by Quantity.
type RemoveReputation struct {
	Quantity uint64 `json:"quantity"`
}

func (RemoveReputation) VariantName() string { return "remove_reputation" }

type Created struct {
	UUID   uuid.UUID `json:"uuid"`
	Pseudo string    `json:"pseudo"`
	Time   time.Time `json:"time"`
}

func (Created) VariantName() string { return "created" }

type Logged struct {
	Time time.Time `json:"time"`
}

func (Logged) VariantName() string { return "logged" }

type ReputationAdded struct {
	Quantity uint64 `json:"quantity"`
}

func (ReputationAdded) VariantName() string { return "reputation_added" }

type ReputationRemoved struct {
	Quantity uint64 `json:"quantity"`
}

func (ReputationRemoved) VariantName() string { return "reputation_removed" }

var (
	events        = state.NewRegistry[Event]()
	notifications = state.NewRegistry[Notification]()
)

func init() {
	state.Register[Created](events)
	state.Register[Logged](events)
	state.Register[ReputationAdded](events)
	state.Register[ReputationRemoved](events)
}

// Account is the state of one player account.
type Account struct {
	UUID         uuid.UUID `json:"uuid"`
	Pseudo       string    `json:"pseudo"`
	RegisteredAt time.Time `json:"registered_at"`
	LastLogin    time.Time `json:"last_login"`
	Reputation   uint64    `json:"reputation"`
}

// Exists reports whether the account was created.
func (a *Account) Exists() bool {
	return a.Pseudo != ""
}

func (*Account) Namespace() string { return Namespace }

func (*Account) CachePolicy() state.CachePolicy { return state.SnapshotEvery(SnapshotInterval) }

func (*Account) Events() *state.Registry[Event] { return events }

func (*Account) Notifications() *state.Registry[Notification] { return notifications }

// TryCommand decides cmd against the account.
func (a *Account) TryCommand(cmd Command, now time.Time) (state.Decision[Event, Notification], error) {
	var none state.Decision[Event, Notification]
	switch cmd := cmd.(type) {
	case CreateAccount:
		if cmd.Pseudo == "" {
			return none, apperrors.New(apperrors.CodeAccountPseudoEmpty, "pseudo is required")
		}
		if a.Exists() {
			return none, apperrors.WithMetadata(apperrors.CodeAccountAlreadyExists, "account already has a pseudo",
				map[string]string{"Pseudo": a.Pseudo})
		}
		id := uuid.New()
		if cmd.UUID != nil {
			id = *cmd.UUID
		}
		return state.Emit[Event, Notification](Created{UUID: id, Pseudo: cmd.Pseudo, Time: now.UTC()}), nil
	case Login:
		if !a.Exists() {
			return none, apperrors.New(apperrors.CodeAccountNotCreated, "cannot log into a missing account")
		}
		return state.Emit[Event, Notification](Logged{Time: now.UTC()}), nil
	case AddReputation:
		if _, err := quantity.Add(a.Reputation, cmd.Quantity); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](ReputationAdded(cmd)), nil
	case RemoveReputation:
		if _, err := quantity.Sub(a.Reputation, cmd.Quantity); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](ReputationRemoved(cmd)), nil
	default:
		return none, invalid(cmd)
	}
}

func invalid(cmd Command) error {
	name := "<nil>"
	if cmd != nil {
		name = cmd.VariantName()
	}
	return apperrors.WithMetadata(apperrors.CodeInvalidCommand, "unknown account command "+name,
		map[string]string{"Command": name})
}

// PlayEvent applies evt.
func (a *Account) PlayEvent(evt Event) {
	switch evt := evt.(type) {
	case Created:
		a.UUID = evt.UUID
		a.Pseudo = evt.Pseudo
		a.RegisteredAt = evt.Time
	case Logged:
		a.LastLogin = evt.Time
	case ReputationAdded:
		a.Reputation += evt.Quantity
	case ReputationRemoved:
		a.Reputation -= evt.Quantity
	}
}

// Store persists accounts.
type Store = repository.Store[Account, *Account, Command, Event, Notification]

// NewStore builds the account store.
func NewStore(log eventlog.Log, snapshots cache.Cache, opts ...repository.Option) (*Store, error) {
	return repository.New[Account, *Account, Command, Event, Notification](log, snapshots, opts...)
}

// Package domain holds the worker pool aggregate: idle workers that are
// assigned to buildings on request and released once they are done.
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

const Namespace = "worker"

type Command interface{ state.Variant }
type Event interface{ state.Variant }
type Notification interface{ state.Variant }

// Hire adds idle workers to the pool.
type Hire struct {
	Count uint64 `json:"count"`
}

func (Hire) VariantName() string { return "hire" }

// Allocate assigns idle workers to RespondTo.
type Allocate struct {
	Count     uint64       `json:"count"`
	RespondTo modelkey.Key `json:"respond_to"`
}

func (Allocate) VariantName() string { return "allocate" }

// Release returns assigned workers to the idle pool.
type Release struct {
	Count uint64 `json:"count"`
}

func (Release) VariantName() string { return "release" }

type Hired struct {
	Count uint64 `json:"count"`
}

func (Hired) VariantName() string { return "hired" }

type Allocated struct {
	Count uint64 `json:"count"`
}

func (Allocated) VariantName() string { return "allocated" }

type Released struct {
	Count uint64 `json:"count"`
}

func (Released) VariantName() string { return "released" }

// Assigned tells RespondTo its workers are on their way.
type Assigned struct {
	Count     uint64       `json:"count"`
	RespondTo modelkey.Key `json:"respond_to"`
}

func (Assigned) VariantName() string { return "assigned" }

var (
	events        = state.NewRegistry[Event]()
	notifications = state.NewRegistry[Notification]()
)

func init() {
	state.Register[Hired](events)
	state.Register[Allocated](events)
	state.Register[Released](events)
	state.Register[Assigned](notifications)
}

// Pool is the state of one worker pool.
type Pool struct {
	Idle     uint64 `json:"idle"`
	Assigned uint64 `json:"assigned"`
}

func (*Pool) Namespace() string { return Namespace }

func (*Pool) CachePolicy() state.CachePolicy { return state.NoCache() }

func (*Pool) Events() *state.Registry[Event] { return events }

func (*Pool) Notifications() *state.Registry[Notification] { return notifications }

func (p *Pool) TryCommand(cmd Command, _ time.Time) (state.Decision[Event, Notification], error) {
	var none state.Decision[Event, Notification]
	switch cmd := cmd.(type) {
	case Hire:
		// Idle+Assigned never overflows: every hire is checked against it.
		if _, err := quantity.Add(p.Idle+p.Assigned, cmd.Count); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](Hired(cmd)), nil
	case Allocate:
		if cmd.Count > p.Idle {
			return none, apperrors.WithMetadata(apperrors.CodeWorkerInsufficient, "not enough idle workers",
				map[string]string{
					"Available": strconv.FormatUint(p.Idle, 10),
					"Count":     strconv.FormatUint(cmd.Count, 10),
				})
		}
		decision := state.Emit[Event, Notification](Allocated{Count: cmd.Count})
		if !cmd.RespondTo.IsZero() {
			decision = decision.Notify(Assigned(cmd))
		}
		return decision, nil
	case Release:
		if _, err := quantity.Sub(p.Assigned, cmd.Count); err != nil {
			return none, err
		}
		if _, err := quantity.Add(p.Idle, cmd.Count); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](Released(cmd)), nil
	}
	name := "<nil>"
	if cmd != nil {
		name = cmd.VariantName()
	}
	return none, apperrors.WithMetadata(apperrors.CodeInvalidCommand, "unknown worker command "+name,
		map[string]string{"Command": name})
}

func (p *Pool) PlayEvent(evt Event) {
	switch evt := evt.(type) {
	case Hired:
		p.Idle += evt.Count
	case Allocated:
		p.Idle -= evt.Count
		p.Assigned += evt.Count
	case Released:
		p.Assigned -= evt.Count
		p.Idle += evt.Count
	}
}

type Store = repository.Store[Pool, *Pool, Command, Event, Notification]

func NewStore(log eventlog.Log, snapshots cache.Cache, opts ...repository.Option) (*Store, error) {
	return repository.New[Pool, *Pool, Command, Event, Notification](log, snapshots, opts...)
}

// Package domain holds the building aggregate. A building is created with a
// cost, collects gold and workers until the cost is covered, then takes
// BuildTime to finish.
package domain

import (
	"time"

	"github.com/Aedius/royaumes/internal/eventsource/cache"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/repository"
	"github.com/Aedius/royaumes/internal/eventsource/state"
	apperrors "github.com/Aedius/royaumes/internal/platform/errors"
	"github.com/Aedius/royaumes/internal/services/shared/quantity"
)

const Namespace = "building"

// Cost is an amount of resources.
type Cost struct {
	Gold    uint64 `json:"gold"`
	Workers uint64 `json:"workers"`
}

// IsZero reports whether nothing is needed.
func (c Cost) IsZero() bool {
	return c.Gold == 0 && c.Workers == 0
}

// Covers reports whether c is at least other on every resource.
func (c Cost) Covers(other Cost) bool {
	return c.Gold >= other.Gold && c.Workers >= other.Workers
}

// Plus returns c+other, failing on overflow.
func (c Cost) Plus(other Cost) (Cost, error) {
	gold, err := quantity.Add(c.Gold, other.Gold)
	if err != nil {
		return c, err
	}
	workers, err := quantity.Add(c.Workers, other.Workers)
	if err != nil {
		return c, err
	}
	return Cost{Gold: gold, Workers: workers}, nil
}

// Minus returns c-other, failing below zero.
func (c Cost) Minus(other Cost) (Cost, error) {
	gold, err := quantity.Sub(c.Gold, other.Gold)
	if err != nil {
		return c, err
	}
	workers, err := quantity.Sub(c.Workers, other.Workers)
	if err != nil {
		return c, err
	}
	return Cost{Gold: gold, Workers: workers}, nil
}

type Command interface{ state.Variant }
type Event interface{ state.Variant }
type Notification interface{ state.Variant }

// Create starts a building paid by Bank and staffed from the Citizen worker
// pool.
type Create struct {
	Cost      Cost          `json:"cost"`
	Bank      modelkey.Key  `json:"bank"`
	Citizen   modelkey.Key  `json:"citizen"`
	BuildTime time.Duration `json:"build_time"`
}

func (Create) VariantName() string { return "create" }

// payers requires a bank when gold is due and a worker pool when workers are.
func (c Create) payers() error {
	if c.Cost.Gold > 0 && c.Bank.Validate() != nil {
		return apperrors.WithMetadata(apperrors.CodePrecondition, "gold cost without a bank",
			map[string]string{"Resource": "gold"})
	}
	if c.Cost.Workers > 0 && c.Citizen.Validate() != nil {
		return apperrors.WithMetadata(apperrors.CodePrecondition, "worker cost without a worker pool",
			map[string]string{"Resource": "workers"})
	}
	return nil
}

type Allocate struct {
	Cost Cost `json:"cost"`
}

func (Allocate) VariantName() string { return "allocate" }

type Deallocate struct {
	Cost Cost `json:"cost"`
}

func (Deallocate) VariantName() string { return "deallocate" }

type FinishBuild struct{}

func (FinishBuild) VariantName() string { return "finish_build" }

type Created struct {
	Cost      Cost          `json:"cost"`
	Bank      modelkey.Key  `json:"bank"`
	Citizen   modelkey.Key  `json:"citizen"`
	BuildTime time.Duration `json:"build_time"`
}

func (Created) VariantName() string { return "created" }

type Allocated struct {
	Cost Cost `json:"cost"`
}

func (Allocated) VariantName() string { return "allocated" }

type Deallocated struct {
	Cost Cost `json:"cost"`
}

func (Deallocated) VariantName() string { return "deallocated" }

// Started marks the allocation as complete.
type Started struct {
	At time.Time `json:"at"`
}

func (Started) VariantName() string { return "started" }

type Built struct{}

func (Built) VariantName() string { return "built" }

// AllocationNeeded asks the bank and the worker pool for the cost.
type AllocationNeeded struct {
	Cost    Cost         `json:"cost"`
	Bank    modelkey.Key `json:"bank"`
	Citizen modelkey.Key `json:"citizen"`
}

func (AllocationNeeded) VariantName() string { return "allocation_needed" }

// BuildStarted schedules the end of the construction.
type BuildStarted struct {
	BuildTime time.Duration `json:"build_time"`
}

func (BuildStarted) VariantName() string { return "build_started" }

type BuildEnded struct {
	Cost Cost `json:"cost"`
}

func (BuildEnded) VariantName() string { return "build_ended" }

var (
	events        = state.NewRegistry[Event]()
	notifications = state.NewRegistry[Notification]()
)

func init() {
	state.Register[Created](events)
	state.Register[Allocated](events)
	state.Register[Deallocated](events)
	state.Register[Started](events)
	state.Register[Built](events)

	state.Register[AllocationNeeded](notifications)
	state.Register[BuildStarted](notifications)
	state.Register[BuildEnded](notifications)
}

// Building is the state of one building.
type Building struct {
	Exists    bool          `json:"exists"`
	Cost      Cost          `json:"cost"`
	Allocated Cost          `json:"allocated"`
	Bank      modelkey.Key  `json:"bank"`
	Citizen   modelkey.Key  `json:"citizen"`
	BuildTime time.Duration `json:"build_time"`
	StartedAt time.Time     `json:"started_at"`
	Started   bool          `json:"started"`
	Built     bool          `json:"built"`
}

func (*Building) Namespace() string { return Namespace }

func (*Building) CachePolicy() state.CachePolicy { return state.NoCache() }

func (*Building) Events() *state.Registry[Event] { return events }

func (*Building) Notifications() *state.Registry[Notification] { return notifications }

func (b *Building) TryCommand(cmd Command, now time.Time) (state.Decision[Event, Notification], error) {
	var none state.Decision[Event, Notification]
	if _, ok := cmd.(Create); !ok && cmd != nil && !b.Exists {
		return none, apperrors.New(apperrors.CodeBuildingNotCreated, "building does not exist")
	}

	switch cmd := cmd.(type) {
	case Create:
		if b.Exists {
			return none, apperrors.New(apperrors.CodeBuildingAlreadyExists, "building already exists")
		}
		if err := cmd.payers(); err != nil {
			return none, err
		}
		decision := state.Emit[Event, Notification](Created(cmd))
		if cmd.Cost.IsZero() {
			return start(decision, cmd.BuildTime, now), nil
		}
		return decision.Notify(AllocationNeeded{Cost: cmd.Cost, Bank: cmd.Bank, Citizen: cmd.Citizen}), nil

	case Allocate:
		if b.Started {
			return none, apperrors.New(apperrors.CodeBuildingAlreadyBuilt, "building no longer accepts resources")
		}
		total, err := b.Allocated.Plus(cmd.Cost)
		if err != nil {
			return none, err
		}
		decision := state.Emit[Event, Notification](Allocated(cmd))
		if total.Covers(b.Cost) {
			decision = start(decision, b.BuildTime, now)
		}
		return decision, nil

	case Deallocate:
		if b.Started {
			return none, apperrors.New(apperrors.CodeBuildingAlreadyBuilt, "resources are committed")
		}
		if _, err := b.Allocated.Minus(cmd.Cost); err != nil {
			return none, err
		}
		return state.Emit[Event, Notification](Deallocated(cmd)), nil

	case FinishBuild:
		if b.Built {
			return none, apperrors.New(apperrors.CodeBuildingAlreadyBuilt, "building is already built")
		}
		if !b.Started {
			return none, apperrors.New(apperrors.CodePrecondition, "building has not started")
		}
		return state.Emit[Event, Notification](Built{}).Notify(BuildEnded{Cost: b.Cost}), nil
	}

	name := "<nil>"
	if cmd != nil {
		name = cmd.VariantName()
	}
	return none, apperrors.WithMetadata(apperrors.CodeInvalidCommand, "unknown building command "+name,
		map[string]string{"Command": name})
}

func start(decision state.Decision[Event, Notification], buildTime time.Duration, now time.Time) state.Decision[Event, Notification] {
	decision.Events = append(decision.Events, Started{At: now.UTC()})
	return decision.Notify(BuildStarted{BuildTime: buildTime})
}

func (b *Building) PlayEvent(evt Event) {
	switch evt := evt.(type) {
	case Created:
		b.Exists = true
		b.Cost = evt.Cost
		b.Bank = evt.Bank
		b.Citizen = evt.Citizen
		b.BuildTime = evt.BuildTime
	case Allocated:
		b.Allocated.Gold += evt.Cost.Gold
		b.Allocated.Workers += evt.Cost.Workers
	case Deallocated:
		b.Allocated.Gold -= evt.Cost.Gold
		b.Allocated.Workers -= evt.Cost.Workers
	case Started:
		b.Started = true
		b.StartedAt = evt.At
	case Built:
		b.Built = true
	}
}

type Store = repository.Store[Building, *Building, Command, Event, Notification]

func NewStore(log eventlog.Log, snapshots cache.Cache, opts ...repository.Option) (*Store, error) {
	return repository.New[Building, *Building, Command, Event, Notification](log, snapshots, opts...)
}

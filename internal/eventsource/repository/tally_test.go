package repository

import (
	"errors"
	"math"
	"time"

	"github.com/Aedius/royaumes/internal/eventsource/state"
)

// tally is a small aggregate used to exercise the store.

type tallyCommand interface{ state.Variant }
type tallyEvent interface{ state.Variant }
type tallyNotification interface{ state.Variant }

type add struct {
	N uint64 `json:"n"`
}

func (add) VariantName() string { return "add" }

type sub struct {
	N uint64 `json:"n"`
}

func (sub) VariantName() string { return "sub" }

type announce struct{}

func (announce) VariantName() string { return "announce" }

type added struct {
	N uint64 `json:"n"`
}

func (added) VariantName() string { return "added" }

type subtracted struct {
	N uint64 `json:"n"`
}

func (subtracted) VariantName() string { return "subtracted" }

type announced struct {
	Total uint64 `json:"total"`
}

func (announced) VariantName() string { return "announced" }

var (
	errOverflow  = errors.New("overflow")
	errUnderflow = errors.New("underflow")
	errUnknown   = errors.New("unknown command")
)

var tallyEvents = func() *state.Registry[tallyEvent] {
	reg := state.NewRegistry[tallyEvent]()
	state.Register[added](reg)
	state.Register[subtracted](reg)
	return reg
}()

var tallyNotifications = func() *state.Registry[tallyNotification] {
	reg := state.NewRegistry[tallyNotification]()
	state.Register[announced](reg)
	return reg
}()

type tally struct {
	Total   uint64 `json:"total"`
	Applied int    `json:"applied"`
}

func (*tally) Namespace() string { return "tally" }

func (*tally) CachePolicy() state.CachePolicy { return state.SnapshotEvery(2) }

func (*tally) Events() *state.Registry[tallyEvent] { return tallyEvents }

func (*tally) Notifications() *state.Registry[tallyNotification] { return tallyNotifications }

func (t *tally) TryCommand(cmd tallyCommand, _ time.Time) (state.Decision[tallyEvent, tallyNotification], error) {
	var none state.Decision[tallyEvent, tallyNotification]
	switch cmd := cmd.(type) {
	case add:
		if t.Total > math.MaxUint64-cmd.N {
			return none, errOverflow
		}
		return state.Emit[tallyEvent, tallyNotification](added(cmd)), nil
	case sub:
		if cmd.N > t.Total {
			return none, errUnderflow
		}
		return state.Emit[tallyEvent, tallyNotification](subtracted(cmd)), nil
	case announce:
		return none.Notify(announced{Total: t.Total}), nil
	default:
		return none, errUnknown
	}
}

func (t *tally) PlayEvent(evt tallyEvent) {
	switch evt := evt.(type) {
	case added:
		t.Total += evt.N
	case subtracted:
		t.Total -= evt.N
	}
	t.Applied++
}

// plainTally is a tally that is never snapshotted.
type plainTally struct {
	tally
}

func (*plainTally) CachePolicy() state.CachePolicy { return state.NoCache() }

type tallyStore = Store[tally, *tally, tallyCommand, tallyEvent, tallyNotification]

type plainTallyStore = Store[plainTally, *plainTally, tallyCommand, tallyEvent, tallyNotification]

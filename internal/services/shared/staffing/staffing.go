// Package staffing defines the transferts exchanged between the game service,
// which owns buildings, and the worker service, which owns worker pools.
package staffing

import (
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/state"
	"github.com/Aedius/royaumes/internal/eventsource/workflow"
)

// Message is a staffing transfert.
type Message interface{ workflow.Transfert }

// WorkersRequested asks a worker pool for Count workers on behalf of Building.
type WorkersRequested struct {
	Pool     modelkey.Key `json:"pool"`
	Building modelkey.Key `json:"building"`
	Count    uint64       `json:"count"`
}

func (WorkersRequested) VariantName() string { return "workers_requested" }

func (r WorkersRequested) Target() modelkey.Key { return r.Pool }

// WorkersAssigned tells Building that Count workers were assigned to it.
type WorkersAssigned struct {
	Building modelkey.Key `json:"building"`
	Count    uint64       `json:"count"`
}

func (WorkersAssigned) VariantName() string { return "workers_assigned" }

func (a WorkersAssigned) Target() modelkey.Key { return a.Building }

var (
	requests    = state.NewRegistry[Message]()
	assignments = state.NewRegistry[Message]()
)

func init() {
	state.Register[WorkersRequested](requests)
	state.Register[WorkersAssigned](assignments)
}

// Requests lists the transferts received by the worker service.
func Requests() *state.Registry[Message] { return requests }

// Assignments lists the transferts received by the game service.
func Assignments() *state.Registry[Message] { return assignments }

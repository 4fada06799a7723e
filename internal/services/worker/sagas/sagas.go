// Package sagas wires the worker service to the staffing transferts.
package sagas

import (
	"context"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/saga"
	"github.com/Aedius/royaumes/internal/eventsource/workflow"
	"github.com/Aedius/royaumes/internal/services/shared/staffing"
	workerdomain "github.com/Aedius/royaumes/internal/services/worker/domain"
)

// Register answers worker requests: a request allocates workers from the
// addressed pool and the resulting assignment is sent back to the building.
func Register(d *saga.Dispatcher, log eventlog.Log, pools *workerdomain.Store) {
	workflow.Listen(d, log, workflow.Distant[staffing.Message, workerdomain.Command, workerdomain.Notification, staffing.Message]{
		Inputs:   staffing.Requests(),
		Target:   pools,
		Command:  allocate,
		Source:   saga.From[workerdomain.Notification](pools, workerdomain.Assigned{}.VariantName()),
		Response: assign,
	})
}

func allocate(_ context.Context, msg staffing.Message) (workerdomain.Command, error) {
	req, ok := msg.(staffing.WorkersRequested)
	if !ok {
		return nil, saga.Skip
	}
	return workerdomain.Allocate{Count: req.Count, RespondTo: req.Building}, nil
}

func assign(_ context.Context, _ modelkey.Key, ntf workerdomain.Notification) (staffing.Message, error) {
	assigned, ok := ntf.(workerdomain.Assigned)
	if !ok {
		return nil, saga.Skip
	}
	return staffing.WorkersAssigned{Building: assigned.RespondTo, Count: assigned.Count}, nil
}

// Package sagas wires the notifications of the game service aggregates to
// the commands they trigger.
package sagas

import (
	"context"

	"github.com/Aedius/royaumes/internal/eventsource/crossstate"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/saga"
	"github.com/Aedius/royaumes/internal/eventsource/workflow"
	bankdomain "github.com/Aedius/royaumes/internal/services/bank/domain"
	buildingdomain "github.com/Aedius/royaumes/internal/services/building/domain"
	"github.com/Aedius/royaumes/internal/services/shared/staffing"
)

// Stores are the game aggregates taking part in sagas.
type Stores struct {
	Banks     *bankdomain.Store
	Buildings *buildingdomain.Store
}

// Register adds every game saga to d:
//   - a building asks its bank for gold and allocates what was paid;
//   - a started building finishes after its build time;
//   - a building asks the worker service for workers and allocates them.
func Register(d *saga.Dispatcher, log eventlog.Log, stores Stores) {
	allocationNeeded := buildingdomain.AllocationNeeded{}.VariantName()

	crossstate.Exchange[buildingdomain.Notification, bankdomain.Notification, buildingdomain.Command, bankdomain.Command]{
		Questions:  saga.From[buildingdomain.Notification](stores.Buildings, allocationNeeded),
		Answerer:   stores.Banks,
		Ask:        askPayment,
		Answers:    saga.From[bankdomain.Notification](stores.Banks, bankdomain.PaymentDone{}.VariantName()),
		Questioner: stores.Buildings,
		Reply:      allocateGold,
	}.Register(d)

	saga.Route[buildingdomain.Notification, buildingdomain.Command](d,
		saga.From[buildingdomain.Notification](stores.Buildings, buildingdomain.BuildStarted{}.VariantName()),
		stores.Buildings, finishBuild)

	workflow.Listen(d, log, workflow.Distant[staffing.Message, buildingdomain.Command, buildingdomain.Notification, staffing.Message]{
		Inputs:   staffing.Assignments(),
		Target:   stores.Buildings,
		Command:  allocateWorkers,
		Source:   saga.From[buildingdomain.Notification](stores.Buildings, allocationNeeded),
		Response: requestWorkers,
	})
}

func askPayment(_ context.Context, building modelkey.Key, ntf buildingdomain.Notification) (modelkey.Key, bankdomain.Command, error) {
	needed, ok := ntf.(buildingdomain.AllocationNeeded)
	if !ok || needed.Cost.Gold == 0 {
		return modelkey.Key{}, nil, saga.Skip
	}
	return needed.Bank, bankdomain.Pay{Amount: needed.Cost.Gold, RespondTo: building}, nil
}

func allocateGold(_ context.Context, ntf bankdomain.Notification) (modelkey.Key, buildingdomain.Command, error) {
	done, ok := ntf.(bankdomain.PaymentDone)
	if !ok || done.RespondTo.Namespace != buildingdomain.Namespace {
		return modelkey.Key{}, nil, saga.Skip
	}
	return done.RespondTo, buildingdomain.Allocate{Cost: buildingdomain.Cost{Gold: done.Amount}}, nil
}

func finishBuild(_ context.Context, _ modelkey.Key, ntf buildingdomain.Notification) (saga.Dispatch[buildingdomain.Command], error) {
	started, ok := ntf.(buildingdomain.BuildStarted)
	if !ok {
		return saga.Dispatch[buildingdomain.Command]{}, saga.Skip
	}
	return saga.Delay[buildingdomain.Command](buildingdomain.FinishBuild{}, started.BuildTime), nil
}

func requestWorkers(_ context.Context, building modelkey.Key, ntf buildingdomain.Notification) (staffing.Message, error) {
	needed, ok := ntf.(buildingdomain.AllocationNeeded)
	if !ok || needed.Cost.Workers == 0 {
		return nil, saga.Skip
	}
	return staffing.WorkersRequested{Pool: needed.Citizen, Building: building, Count: needed.Cost.Workers}, nil
}

func allocateWorkers(_ context.Context, msg staffing.Message) (buildingdomain.Command, error) {
	assigned, ok := msg.(staffing.WorkersAssigned)
	if !ok {
		return nil, saga.Skip
	}
	return buildingdomain.Allocate{Cost: buildingdomain.Cost{Workers: assigned.Count}}, nil
}

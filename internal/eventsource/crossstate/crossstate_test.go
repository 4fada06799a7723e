package crossstate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Aedius/royaumes/internal/eventsource/cache"
	"github.com/Aedius/royaumes/internal/eventsource/crossstate"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
	"github.com/Aedius/royaumes/internal/eventsource/record"
	"github.com/Aedius/royaumes/internal/eventsource/repository"
	"github.com/Aedius/royaumes/internal/eventsource/saga"
	"github.com/Aedius/royaumes/internal/eventsource/state"
)

// shop asks a ledger to pay for its orders.

type shopCommand interface{ state.Variant }
type shopEvent interface{ state.Variant }
type shopNotification interface{ state.Variant }

type order struct {
	Price  uint64 `json:"price"`
	Ledger string `json:"ledger"`
}

func (order) VariantName() string { return "order" }

type settle struct {
	Amount uint64 `json:"amount"`
}

func (settle) VariantName() string { return "settle" }

type ordered struct {
	Price uint64 `json:"price"`
}

func (ordered) VariantName() string { return "ordered" }

type settled struct {
	Amount uint64 `json:"amount"`
}

func (settled) VariantName() string { return "settled" }

type paymentRequested struct {
	Amount uint64 `json:"amount"`
	Ledger string `json:"ledger"`
}

func (paymentRequested) VariantName() string { return "payment_requested" }

var shopEvents = func() *state.Registry[shopEvent] {
	reg := state.NewRegistry[shopEvent]()
	state.Register[ordered](reg)
	state.Register[settled](reg)
	return reg
}()

var shopNotifications = func() *state.Registry[shopNotification] {
	reg := state.NewRegistry[shopNotification]()
	state.Register[paymentRequested](reg)
	return reg
}()

type shop struct {
	Due  uint64 `json:"due"`
	Paid uint64 `json:"paid"`
}

func (*shop) Namespace() string { return "shop" }

func (*shop) CachePolicy() state.CachePolicy { return state.NoCache() }

func (*shop) Events() *state.Registry[shopEvent] { return shopEvents }

func (*shop) Notifications() *state.Registry[shopNotification] { return shopNotifications }

func (s *shop) TryCommand(cmd shopCommand, _ time.Time) (state.Decision[shopEvent, shopNotification], error) {
	switch cmd := cmd.(type) {
	case order:
		return state.Emit[shopEvent, shopNotification](ordered{Price: cmd.Price}).
			Notify(paymentRequested{Amount: cmd.Price, Ledger: cmd.Ledger}), nil
	case settle:
		return state.Emit[shopEvent, shopNotification](settled(cmd)), nil
	}
	return state.Decision[shopEvent, shopNotification]{}, errors.New("unknown shop command")
}

func (s *shop) PlayEvent(evt shopEvent) {
	switch evt := evt.(type) {
	case ordered:
		s.Due += evt.Price
	case settled:
		s.Due -= evt.Amount
		s.Paid += evt.Amount
	}
}

// ledger answers payment requests.

type ledgerCommand interface{ state.Variant }
type ledgerEvent interface{ state.Variant }
type ledgerNotification interface{ state.Variant }

type charge struct {
	Amount    uint64       `json:"amount"`
	RespondTo modelkey.Key `json:"respond_to"`
}

func (charge) VariantName() string { return "charge" }

type charged struct {
	Amount uint64 `json:"amount"`
}

func (charged) VariantName() string { return "charged" }

type paymentDone struct {
	Amount    uint64       `json:"amount"`
	RespondTo modelkey.Key `json:"respond_to"`
}

func (paymentDone) VariantName() string { return "payment_done" }

var ledgerEvents = func() *state.Registry[ledgerEvent] {
	reg := state.NewRegistry[ledgerEvent]()
	state.Register[charged](reg)
	return reg
}()

var ledgerNotifications = func() *state.Registry[ledgerNotification] {
	reg := state.NewRegistry[ledgerNotification]()
	state.Register[paymentDone](reg)
	return reg
}()

type ledger struct {
	Charged uint64 `json:"charged"`
}

func (*ledger) Namespace() string { return "ledger" }

func (*ledger) CachePolicy() state.CachePolicy { return state.SnapshotEvery(1) }

func (*ledger) Events() *state.Registry[ledgerEvent] { return ledgerEvents }

func (*ledger) Notifications() *state.Registry[ledgerNotification] { return ledgerNotifications }

func (l *ledger) TryCommand(cmd ledgerCommand, _ time.Time) (state.Decision[ledgerEvent, ledgerNotification], error) {
	c, ok := cmd.(charge)
	if !ok {
		return state.Decision[ledgerEvent, ledgerNotification]{}, errors.New("unknown ledger command")
	}
	return state.Emit[ledgerEvent, ledgerNotification](charged{Amount: c.Amount}).
		Notify(paymentDone(c)), nil
}

func (l *ledger) PlayEvent(evt ledgerEvent) {
	if c, ok := evt.(charged); ok {
		l.Charged += c.Amount
	}
}

type (
	shopStore   = repository.Store[shop, *shop, shopCommand, shopEvent, shopNotification]
	ledgerStore = repository.Store[ledger, *ledger, ledgerCommand, ledgerEvent, ledgerNotification]
)

func newStores(t *testing.T, log eventlog.Log) (*shopStore, *ledgerStore) {
	t.Helper()
	shops, err := repository.New[shop, *shop, shopCommand, shopEvent, shopNotification](log, nil)
	if err != nil {
		t.Fatalf("new shop store: %v", err)
	}
	ledgers, err := repository.New[ledger, *ledger, ledgerCommand, ledgerEvent, ledgerNotification](log, cache.NewMemory())
	if err != nil {
		t.Fatalf("new ledger store: %v", err)
	}
	return shops, ledgers
}

func register(d *saga.Dispatcher, shops *shopStore, ledgers *ledgerStore) {
	crossstate.Exchange[shopNotification, ledgerNotification, shopCommand, ledgerCommand]{
		Questions: saga.From[shopNotification](shops),
		Answerer:  ledgers,
		Ask: func(_ context.Context, questioner modelkey.Key, q shopNotification) (modelkey.Key, ledgerCommand, error) {
			req := q.(paymentRequested)
			return ledgers.Key(req.Ledger), charge{Amount: req.Amount, RespondTo: questioner}, nil
		},
		Answers:    saga.From[ledgerNotification](ledgers),
		Questioner: shops,
		Reply: func(_ context.Context, a ledgerNotification) (modelkey.Key, shopCommand, error) {
			done := a.(paymentDone)
			return done.RespondTo, settle{Amount: done.Amount}, nil
		},
	}.Register(d)
}

func waitFor(t *testing.T, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !check() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExchangeSettlesTheQuestioner(t *testing.T) {
	log := eventlog.NewMemory()
	shops, ledgers := newStores(t, log)
	d := saga.New(log)
	register(d, shops, ledgers)

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Wait()
	})

	shopKey := shops.Key("s1")
	if _, err := shops.Mutate(ctx, shopKey, order{Price: 40, Ledger: "l1"}, nil); err != nil {
		t.Fatalf("order: %v", err)
	}

	waitFor(t, func() bool {
		h, err := shops.Hydrate(ctx, shopKey)
		return err == nil && h.State.Paid == 40
	})

	l, err := ledgers.Hydrate(ctx, ledgers.Key("l1"))
	if err != nil {
		t.Fatalf("hydrate ledger: %v", err)
	}
	if l.State.Charged != 40 {
		t.Fatalf("charged = %d, want 40", l.State.Charged)
	}

	shopRecords, err := log.Read(ctx, shopKey.String(), eventlog.NoStream)
	if err != nil {
		t.Fatalf("read shop: %v", err)
	}
	ledgerRecords, err := log.Read(ctx, ledgers.Key("l1").String(), eventlog.NoStream)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	root, err := record.DecodeMetadata(shopRecords[0])
	if err != nil {
		t.Fatalf("decode root: %v", err)
	}
	for _, rec := range append(shopRecords, ledgerRecords...) {
		meta, err := record.DecodeMetadata(rec)
		if err != nil {
			t.Fatalf("decode %s: %v", rec.Name, err)
		}
		if meta.CorrelationID != *root.ID {
			t.Fatalf("%s correlation = %s, want %s", rec.Name, meta.CorrelationID, *root.ID)
		}
	}
}

func TestAnswerWithoutAddressIsDropped(t *testing.T) {
	log := eventlog.NewMemory()
	shops, ledgers := newStores(t, log)
	logs := make(chan string, 8)
	d := saga.New(log, saga.WithLogf(func(format string, args ...any) { logs <- format }))
	crossstate.Reply[ledgerNotification, shopCommand](d, saga.From[ledgerNotification](ledgers), shops,
		func(_ context.Context, a ledgerNotification) (modelkey.Key, shopCommand, error) {
			done := a.(paymentDone)
			return done.RespondTo, settle{Amount: done.Amount}, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = d.Wait()
	})

	if _, err := ledgers.Mutate(ctx, ledgers.Key("l2"), charge{Amount: 5}, nil); err != nil {
		t.Fatalf("charge: %v", err)
	}
	select {
	case <-logs:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the unaddressed answer to be logged")
	}
}

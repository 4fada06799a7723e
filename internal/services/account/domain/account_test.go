package domain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Aedius/royaumes/internal/eventsource/cache"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/repository"
	"github.com/Aedius/royaumes/internal/eventsource/state"
	apperrors "github.com/Aedius/royaumes/internal/platform/errors"
)

var fixedNow = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, log eventlog.Log, snapshots cache.Cache) *Store {
	t.Helper()
	store, err := NewStore(log, snapshots, repository.WithNow(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func mutate(t *testing.T, store *Store, id string, cmd Command) Account {
	t.Helper()
	account, err := store.Mutate(context.Background(), store.Key(id), cmd, nil)
	if err != nil {
		t.Fatalf("mutate %s: %v", cmd.VariantName(), err)
	}
	return account
}

func TestCreateAccountOnFreshKey(t *testing.T) {
	log := eventlog.NewMemory()
	store := newTestStore(t, log, nil)

	account := mutate(t, store, "bob", CreateAccount{Pseudo: "bob"})
	if account.Pseudo != "bob" {
		t.Fatalf("pseudo = %q, want %q", account.Pseudo, "bob")
	}
	if account.UUID == uuid.Nil {
		t.Fatal("expected a generated uuid")
	}
	if !account.RegisteredAt.Equal(fixedNow) {
		t.Fatalf("registered at = %s, want %s", account.RegisteredAt, fixedNow)
	}

	records, err := log.Read(context.Background(), store.Key("bob").String(), eventlog.NoStream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Name != "cmd.account.create_account" || records[1].Name != "evt.account.created" {
		t.Fatalf("names = %q, %q", records[0].Name, records[1].Name)
	}
}

func TestCreateAccountKeepsProvidedUUID(t *testing.T) {
	store := newTestStore(t, eventlog.NewMemory(), nil)
	id := uuid.New()
	account := mutate(t, store, "alice", CreateAccount{Pseudo: "alice", UUID: &id})
	if account.UUID != id {
		t.Fatalf("uuid = %s, want %s", account.UUID, id)
	}
}

func TestCreateAccountTwiceIsRejected(t *testing.T) {
	store := newTestStore(t, eventlog.NewMemory(), nil)
	mutate(t, store, "bob", CreateAccount{Pseudo: "bob"})

	_, err := store.Mutate(context.Background(), store.Key("bob"), CreateAccount{Pseudo: "robert"}, nil)
	if apperrors.CodeOf(err) != apperrors.CodeAccountAlreadyExists {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeAccountAlreadyExists)
	}
}

func TestCreateAccountRequiresPseudo(t *testing.T) {
	store := newTestStore(t, eventlog.NewMemory(), nil)
	_, err := store.Mutate(context.Background(), store.Key("nobody"), CreateAccount{}, nil)
	if apperrors.CodeOf(err) != apperrors.CodeAccountPseudoEmpty {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeAccountPseudoEmpty)
	}
}

func TestLoginRequiresAccount(t *testing.T) {
	store := newTestStore(t, eventlog.NewMemory(), nil)
	_, err := store.Mutate(context.Background(), store.Key("ghost"), Login{}, nil)
	if apperrors.CodeOf(err) != apperrors.CodeAccountNotCreated {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeAccountNotCreated)
	}

	mutate(t, store, "ghost", CreateAccount{Pseudo: "ghost"})
	account := mutate(t, store, "ghost", Login{})
	if !account.LastLogin.Equal(fixedNow) {
		t.Fatalf("last login = %s, want %s", account.LastLogin, fixedNow)
	}
}

func TestAddReputation(t *testing.T) {
	store := newTestStore(t, eventlog.NewMemory(), nil)
	mutate(t, store, "bob", AddReputation{Quantity: 20})

	account := mutate(t, store, "bob", AddReputation{Quantity: 25})
	if account.Reputation != 45 {
		t.Fatalf("reputation = %d, want 45", account.Reputation)
	}
}

func TestRemoveReputationBelowZeroIsRejected(t *testing.T) {
	log := eventlog.NewMemory()
	store := newTestStore(t, log, nil)
	mutate(t, store, "bob", AddReputation{Quantity: 20})

	_, err := store.Mutate(context.Background(), store.Key("bob"), RemoveReputation{Quantity: 25}, nil)
	if !errors.Is(err, apperrors.New(apperrors.CodeWrongQuantity, "")) {
		t.Fatalf("error = %v, want wrong quantity", err)
	}

	hydrated, err := store.Hydrate(context.Background(), store.Key("bob"))
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if hydrated.State.Reputation != 20 {
		t.Fatalf("reputation = %d, want 20", hydrated.State.Reputation)
	}
	if hydrated.Position != 1 {
		t.Fatalf("position = %d, want 1", hydrated.Position)
	}
}

func TestAddReputationOverflowIsRejected(t *testing.T) {
	store := newTestStore(t, eventlog.NewMemory(), nil)
	mutate(t, store, "bob", AddReputation{Quantity: ^uint64(0)})

	_, err := store.Mutate(context.Background(), store.Key("bob"), AddReputation{Quantity: 1}, nil)
	if apperrors.CodeOf(err) != apperrors.CodeWrongQuantity {
		t.Fatalf("error = %v, want wrong quantity", err)
	}
}

// countingLog counts appends that lost the revision race.
type countingLog struct {
	eventlog.Log
	conflicts atomic.Int32
}

func (l *countingLog) Append(ctx context.Context, stream string, expected eventlog.Revision, records []eventlog.Proposed) (eventlog.Revision, error) {
	rev, err := l.Log.Append(ctx, stream, expected, records)
	if errors.Is(err, eventlog.ErrRevisionConflict) {
		l.conflicts.Add(1)
	}
	return rev, err
}

// gatedLog holds both first appends until both writers hydrated.
type gatedLog struct {
	eventlog.Log
	reads   sync.WaitGroup
	readers atomic.Int32
}

func (l *gatedLog) Read(ctx context.Context, stream string, after eventlog.Revision) ([]eventlog.Record, error) {
	records, err := l.Log.Read(ctx, stream, after)
	if l.readers.Add(1) <= 2 {
		l.reads.Done()
		l.reads.Wait()
	}
	return records, err
}

func TestConcurrentAddReputationLosesNoUpdate(t *testing.T) {
	gated := &gatedLog{Log: eventlog.NewMemory()}
	gated.reads.Add(2)
	log := &countingLog{Log: gated}
	store := newTestStore(t, log, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Mutate(context.Background(), store.Key("bob"), AddReputation{Quantity: 1}, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}

	hydrated, err := store.Hydrate(context.Background(), store.Key("bob"))
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if hydrated.State.Reputation != 2 {
		t.Fatalf("reputation = %d, want 2", hydrated.State.Reputation)
	}
	if log.conflicts.Load() < 1 {
		t.Fatal("expected at least one retried mutate")
	}
}

func TestSnapshotDoesNotChangeHydration(t *testing.T) {
	log := eventlog.NewMemory()
	snapshots := cache.NewMemory()
	cached := newTestStore(t, log, snapshots)
	uncached := newTestStore(t, log, nil)

	mutate(t, cached, "bob", CreateAccount{Pseudo: "bob"})
	for range SnapshotInterval + 5 {
		mutate(t, cached, "bob", AddReputation{Quantity: 2})
	}
	mutate(t, cached, "bob", RemoveReputation{Quantity: 10})

	ctx := context.Background()
	if _, err := snapshots.Get(ctx, cached.Key("bob").String()); err != nil {
		t.Fatalf("expected a snapshot after %d events: %v", SnapshotInterval, err)
	}
	withCache, err := cached.Hydrate(ctx, cached.Key("bob"))
	if err != nil {
		t.Fatalf("hydrate cached: %v", err)
	}
	withoutCache, err := uncached.Hydrate(ctx, uncached.Key("bob"))
	if err != nil {
		t.Fatalf("hydrate uncached: %v", err)
	}
	if !sameAccount(withCache.State, withoutCache.State) || withCache.Position != withoutCache.Position {
		t.Fatalf("cached = %+v, uncached = %+v", withCache, withoutCache)
	}
	if withCache.State.Reputation != 40 {
		t.Fatalf("reputation = %d, want 40", withCache.State.Reputation)
	}
}

func sameAccount(a, b Account) bool {
	return a.UUID == b.UUID &&
		a.Pseudo == b.Pseudo &&
		a.Reputation == b.Reputation &&
		a.RegisteredAt.Equal(b.RegisteredAt) &&
		a.LastLogin.Equal(b.LastLogin)
}

func TestReplayIsDeterministic(t *testing.T) {
	id := uuid.New()
	history := []Event{
		Created{UUID: id, Pseudo: "bob", Time: fixedNow},
		ReputationAdded{Quantity: 7},
		Logged{Time: fixedNow.Add(time.Hour)},
		ReputationRemoved{Quantity: 3},
	}
	first := state.Replay[Account, *Account, Command, Event, Notification](history)
	second := state.Replay[Account, *Account, Command, Event, Notification](history)
	if !sameAccount(first, second) {
		t.Fatalf("replays differ: %+v vs %+v", first, second)
	}
	if first.Reputation != 4 || first.Pseudo != "bob" {
		t.Fatalf("state = %+v", first)
	}
}

func TestUnknownCommandIsRejected(t *testing.T) {
	var account Account
	if _, err := account.TryCommand(nil, fixedNow); apperrors.CodeOf(err) != apperrors.CodeInvalidCommand {
		t.Fatalf("error = %v, want %s", err, apperrors.CodeInvalidCommand)
	}
}

// Package eventlogtest holds the behavior every eventlog.Log must share.
package eventlogtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
)

// Proposed builds a record with an empty JSON payload and metadata.
func Proposed(name string) eventlog.Proposed {
	return eventlog.Proposed{ID: uuid.New(), Name: name, Data: []byte(`{}`), Metadata: []byte(`{}`)}
}

// Run exercises log implementations created by open.
func Run(t *testing.T, open func(t *testing.T) eventlog.Log) {
	t.Run("append and read", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		first := Proposed("cmd.account.create")
		rev, err := log.Append(ctx, "account.1", eventlog.NoStream, []eventlog.Proposed{first, Proposed("evt.account.created")})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if rev != 1 {
			t.Fatalf("revision = %d, want 1", rev)
		}
		records, err := log.Read(ctx, "account.1", eventlog.NoStream)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("records = %d, want 2", len(records))
		}
		if records[0].ID != first.ID || records[0].Name != first.Name || records[0].StreamID != "account.1" {
			t.Fatalf("first record = %+v", records[0])
		}
		if records[0].Revision != 0 || records[1].Revision != 1 {
			t.Fatalf("revisions = %d, %d", records[0].Revision, records[1].Revision)
		}
		if records[1].Position <= records[0].Position {
			t.Fatalf("positions not increasing: %d, %d", records[0].Position, records[1].Position)
		}

		after, err := log.Read(ctx, "account.1", 0)
		if err != nil {
			t.Fatalf("read after: %v", err)
		}
		if len(after) != 1 || after[0].Revision != 1 {
			t.Fatalf("read after 0 = %+v", after)
		}

		empty, err := log.Read(ctx, "account.missing", eventlog.NoStream)
		if err != nil {
			t.Fatalf("read missing: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("missing stream records = %d", len(empty))
		}
	})

	t.Run("expected revision", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		if _, err := log.Append(ctx, "bank.k", eventlog.NoStream, []eventlog.Proposed{Proposed("evt.bank.joined")}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if _, err := log.Append(ctx, "bank.k", eventlog.NoStream, []eventlog.Proposed{Proposed("evt.bank.joined")}); !errors.Is(err, eventlog.ErrRevisionConflict) {
			t.Fatalf("stale append error = %v, want conflict", err)
		}
		if _, err := log.Append(ctx, "bank.k", 3, []eventlog.Proposed{Proposed("evt.bank.joined")}); !errors.Is(err, eventlog.ErrRevisionConflict) {
			t.Fatalf("future append error = %v, want conflict", err)
		}
		rev, err := log.Append(ctx, "bank.k", eventlog.AnyRevision, []eventlog.Proposed{Proposed("tft.workers_assigned")})
		if err != nil {
			t.Fatalf("append any: %v", err)
		}
		if rev != 1 {
			t.Fatalf("revision = %d, want 1", rev)
		}
	})

	t.Run("failed append writes nothing", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		if _, err := log.Append(ctx, "bank.k", 0, []eventlog.Proposed{Proposed("a.b.c"), Proposed("a.b.d")}); !errors.Is(err, eventlog.ErrRevisionConflict) {
			t.Fatalf("append error = %v, want conflict", err)
		}
		records, err := log.Read(ctx, "bank.k", eventlog.NoStream)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(records) != 0 {
			t.Fatalf("records = %d, want none", len(records))
		}
	})

	t.Run("concurrent appends", func(t *testing.T) {
		log := open(t)
		ctx := context.Background()

		const writers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			winners  int
			failures []error
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := log.Append(ctx, "building.race", eventlog.NoStream, []eventlog.Proposed{Proposed("evt.building.created")})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					winners++
				case !errors.Is(err, eventlog.ErrRevisionConflict):
					failures = append(failures, err)
				}
			}()
		}
		wg.Wait()
		if len(failures) > 0 {
			t.Fatalf("unexpected errors: %v", failures)
		}
		if winners != 1 {
			t.Fatalf("winners = %d, want 1", winners)
		}
	})

	t.Run("subscribe type stream", func(t *testing.T) {
		log := open(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := log.Append(ctx, "building.old", eventlog.NoStream, []eventlog.Proposed{Proposed("ntf.building.started")}); err != nil {
			t.Fatalf("append: %v", err)
		}
		sub, err := log.Subscribe(ctx, eventlog.TypeStream("ntf.building.started"))
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer sub.Close()

		if _, err := log.Append(ctx, "building.a", eventlog.NoStream, []eventlog.Proposed{Proposed("evt.building.created"), Proposed("ntf.building.started")}); err != nil {
			t.Fatalf("append a: %v", err)
		}
		if _, err := log.Append(ctx, "building.b", eventlog.NoStream, []eventlog.Proposed{Proposed("ntf.building.started")}); err != nil {
			t.Fatalf("append b: %v", err)
		}

		for _, want := range []struct {
			stream   string
			revision eventlog.Revision
		}{{"building.a", 1}, {"building.b", 0}} {
			rec, err := sub.Next(ctx)
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if rec.StreamID != want.stream || rec.Revision != want.revision {
				t.Fatalf("record = %s@%d, want %s@%d", rec.StreamID, rec.Revision, want.stream, want.revision)
			}
		}
	})

	t.Run("subscribe stream", func(t *testing.T) {
		log := open(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sub, err := log.Subscribe(ctx, "worker.w")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer sub.Close()

		if _, err := log.Append(ctx, "worker.other", eventlog.NoStream, []eventlog.Proposed{Proposed("evt.worker.hired")}); err != nil {
			t.Fatalf("append other: %v", err)
		}
		if _, err := log.Append(ctx, "worker.w", eventlog.NoStream, []eventlog.Proposed{Proposed("evt.worker.hired")}); err != nil {
			t.Fatalf("append: %v", err)
		}
		rec, err := sub.Next(ctx)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if rec.StreamID != "worker.w" {
			t.Fatalf("stream = %s", rec.StreamID)
		}
	})
}

package staffing

import (
	"testing"

	"github.com/Aedius/royaumes/internal/eventsource/modelkey"
)

func TestRegistriesAreDisjoint(t *testing.T) {
	for _, name := range Requests().Names() {
		if Assignments().Has(name) {
			t.Fatalf("%s is registered in both directions", name)
		}
	}
	if !Requests().Has("workers_requested") {
		t.Fatal("requests must carry workers_requested")
	}
	if !Assignments().Has("workers_assigned") {
		t.Fatal("assignments must carry workers_assigned")
	}
}

func TestTargets(t *testing.T) {
	pool := modelkey.New("worker", "guild")
	building := modelkey.New("building", "tower")
	if got := (WorkersRequested{Pool: pool, Building: building}).Target(); got != pool {
		t.Fatalf("request target = %s, want %s", got, pool)
	}
	if got := (WorkersAssigned{Building: building}).Target(); got != building {
		t.Fatalf("assignment target = %s, want %s", got, building)
	}
}

func TestDecodeRequest(t *testing.T) {
	msg, err := Requests().Decode("workers_requested", []byte(`{"pool":{"namespace":"worker","id":"guild"},"building":{"namespace":"building","id":"tower"},"count":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	req, ok := msg.(WorkersRequested)
	if !ok {
		t.Fatalf("decoded %T", msg)
	}
	if req.Count != 3 || req.Pool.ID != "guild" || req.Building.ID != "tower" {
		t.Fatalf("request = %+v", req)
	}
}

package modelkey

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestKeyString(t *testing.T) {
	key := New("account", "42")
	if got := key.String(); got != "account.42" {
		t.Fatalf("string = %q, want %q", got, "account.42")
	}
}

func TestKeyStringReplacesNamespaceDelimiter(t *testing.T) {
	key := New("test.tower", "abc")
	if got := key.String(); got != "test_tower.abc" {
		t.Fatalf("string = %q, want %q", got, "test_tower.abc")
	}
}

func TestParseSplitsOnFirstDelimiter(t *testing.T) {
	key, err := Parse("bank.id.with.dots")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key.Namespace != "bank" {
		t.Fatalf("namespace = %q, want %q", key.Namespace, "bank")
	}
	if key.ID != "id.with.dots" {
		t.Fatalf("id = %q, want %q", key.ID, "id.with.dots")
	}
}

func TestParseRoundTrip(t *testing.T) {
	key := New("building", "7f1c")
	parsed, err := Parse(key.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != key {
		t.Fatalf("parsed = %+v, want %+v", parsed, key)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, value := range []string{"", "nodelimiter", ".missing-namespace", "missing-id."} {
		if _, err := Parse(value); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("parse %q: error = %v, want %v", value, err, ErrInvalidKey)
		}
	}
}

func TestKeyJSON(t *testing.T) {
	data, err := json.Marshal(New("bank", "k1"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"namespace":"bank","id":"k1"}` {
		t.Fatalf("json = %s", data)
	}
}

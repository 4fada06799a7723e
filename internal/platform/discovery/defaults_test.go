package discovery

import "testing"

func TestDefaultGRPCAddr(t *testing.T) {
	cases := map[string]string{
		ServiceGame:   "game:8082",
		ServiceWorker: "worker:8089",
		"bank":        "",
	}
	for service, want := range cases {
		if got := DefaultGRPCAddr(service); got != want {
			t.Fatalf("DefaultGRPCAddr(%q) = %q, want %q", service, got, want)
		}
	}
}

func TestOrDefaultGRPCAddr(t *testing.T) {
	if got := OrDefaultGRPCAddr(" game:9000 ", ServiceGame); got != "game:9000" {
		t.Fatalf("explicit addr = %q", got)
	}
	if got := OrDefaultGRPCAddr("", ServiceGame); got != "game:8082" {
		t.Fatalf("default addr = %q", got)
	}
}

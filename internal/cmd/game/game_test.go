package game

import (
	"flag"
	"testing"

	"github.com/Aedius/royaumes/internal/eventsource/backend"
)

func TestParseConfig_ParsesDefaultsAndFlags(t *testing.T) {
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	t.Setenv("ROYAUMES_GAME_PORT", "9082")
	t.Setenv("ROYAUMES_GAME_CACHE", "none")

	cfg, err := ParseConfig(fs, []string{"-log", "postgres", "-postgres-dsn", "postgres://db/royaumes"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9082 {
		t.Fatalf("port = %d, want 9082", cfg.Port)
	}
	if cfg.MaxAttempts != 64 {
		t.Fatalf("max attempts = %d, want 64", cfg.MaxAttempts)
	}
	if cfg.Backend.Log != backend.LogPostgres || cfg.Backend.PostgresDSN != "postgres://db/royaumes" {
		t.Fatalf("backend = %+v", cfg.Backend)
	}
	if cfg.Backend.Cache != backend.CacheNone {
		t.Fatalf("cache = %q, want %q", cfg.Backend.Cache, backend.CacheNone)
	}
}

func TestParseConfig_RejectsUnknownFlag(t *testing.T) {
	fs := flag.NewFlagSet("game", flag.ContinueOnError)
	fs.SetOutput(discard{})
	if _, err := ParseConfig(fs, []string{"-addr", "x"}); err == nil {
		t.Fatal("expected error")
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"ROYAUMES_TEST_PORT" envDefault:"123"`
}

type prefixedConfig struct {
	Port int    `env:"PORT" envDefault:"1"`
	Name string `env:"NAME"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("ROYAUMES_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvWithPrefix(t *testing.T) {
	t.Setenv("ROYAUMES_GAME_PORT", "8090")
	t.Setenv("ROYAUMES_WORKER_NAME", "guild")

	var game prefixedConfig
	if err := ParseEnvWithPrefix(&game, Prefix+"GAME_"); err != nil {
		t.Fatalf("parse game env: %v", err)
	}
	if game.Port != 8090 || game.Name != "" {
		t.Fatalf("game = %+v", game)
	}

	var worker prefixedConfig
	if err := ParseEnvWithPrefix(&worker, Prefix+"WORKER_"); err != nil {
		t.Fatalf("parse worker env: %v", err)
	}
	if worker.Port != 1 || worker.Name != "guild" {
		t.Fatalf("worker = %+v", worker)
	}
}

// Package game parses game command flags and starts the game runtime.
package game

import (
	"context"
	"flag"

	"github.com/Aedius/royaumes/internal/eventsource/backend"
	entrypoint "github.com/Aedius/royaumes/internal/platform/cmd"
	server "github.com/Aedius/royaumes/internal/services/game/app"
)

// Config holds game command configuration. Variables are read with the
// ROYAUMES_GAME_ prefix.
type Config struct {
	Port        int     `env:"PORT" envDefault:"8082"`
	MaxAttempts int     `env:"MAX_ATTEMPTS" envDefault:"64"`
	SagaRate    float64 `env:"SAGA_RATE"`
	SagaBurst   int     `env:"SAGA_BURST" envDefault:"16"`
	Backend     backend.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseServiceConfig(entrypoint.ServiceGame, &cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The game health gRPC server port")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Mutate attempts before giving up on revision conflicts")
	fs.StringVar(&cfg.Backend.Log, "log", cfg.Backend.Log, "Event log backend: memory, sqlite or postgres")
	fs.StringVar(&cfg.Backend.SQLitePath, "sqlite-path", cfg.Backend.SQLitePath, "The SQLite event log path")
	fs.StringVar(&cfg.Backend.PostgresDSN, "postgres-dsn", cfg.Backend.PostgresDSN, "The PostgreSQL event log DSN")
	fs.StringVar(&cfg.Backend.Cache, "cache", cfg.Backend.Cache, "Snapshot cache backend: memory, redis or none")
	fs.StringVar(&cfg.Backend.RedisAddr, "redis-addr", cfg.Backend.RedisAddr, "The Redis snapshot cache address")
	fs.Float64Var(&cfg.SagaRate, "saga-rate", cfg.SagaRate, "Saga handlers started per second, 0 for unlimited")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the game runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGame, func(ctx context.Context) error {
		return server.Run(ctx, server.RuntimeConfig{
			Port:        cfg.Port,
			MaxAttempts: cfg.MaxAttempts,
			SagaRate:    cfg.SagaRate,
			SagaBurst:   cfg.SagaBurst,
			Backend:     cfg.Backend,
		})
	})
}

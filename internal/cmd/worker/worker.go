// Package worker parses worker command flags and launches the worker runtime.
package worker

import (
	"context"
	"flag"
	"time"

	"github.com/Aedius/royaumes/internal/eventsource/backend"
	entrypoint "github.com/Aedius/royaumes/internal/platform/cmd"
	"github.com/Aedius/royaumes/internal/platform/discovery"
	workerserver "github.com/Aedius/royaumes/internal/services/worker/app"
)

// Config holds worker command configuration. Variables are read with the
// ROYAUMES_WORKER_ prefix.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8089"`
	GameAddr        string        `env:"GAME_ADDR"`
	WaitForGame     bool          `env:"WAIT_FOR_GAME"`
	GRPCDialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	MaxAttempts     int           `env:"MAX_ATTEMPTS" envDefault:"64"`
	SagaRate        float64       `env:"SAGA_RATE"`
	SagaBurst       int           `env:"SAGA_BURST" envDefault:"16"`
	Backend         backend.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseServiceConfig(entrypoint.ServiceWorker, &cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The worker health gRPC server port")
	fs.StringVar(&cfg.GameAddr, "game-addr", cfg.GameAddr, "The game gRPC address to wait for before starting")
	fs.BoolVar(&cfg.WaitForGame, "wait-for-game", cfg.WaitForGame, "Wait for the game service at its default address when -game-addr is empty")
	fs.DurationVar(&cfg.GRPCDialTimeout, "dial-timeout", cfg.GRPCDialTimeout, "gRPC dependency dial timeout")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", cfg.MaxAttempts, "Mutate attempts before giving up on revision conflicts")
	fs.StringVar(&cfg.Backend.Log, "log", cfg.Backend.Log, "Event log backend: sqlite or postgres")
	fs.StringVar(&cfg.Backend.SQLitePath, "sqlite-path", cfg.Backend.SQLitePath, "The SQLite event log path shared with the game service")
	fs.StringVar(&cfg.Backend.PostgresDSN, "postgres-dsn", cfg.Backend.PostgresDSN, "The PostgreSQL event log DSN")
	fs.StringVar(&cfg.Backend.Cache, "cache", cfg.Backend.Cache, "Snapshot cache backend: memory, redis or none")
	fs.StringVar(&cfg.Backend.RedisAddr, "redis-addr", cfg.Backend.RedisAddr, "The Redis snapshot cache address")
	fs.Float64Var(&cfg.SagaRate, "saga-rate", cfg.SagaRate, "Saga handlers started per second, 0 for unlimited")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if cfg.WaitForGame {
		cfg.GameAddr = discovery.OrDefaultGRPCAddr(cfg.GameAddr, discovery.ServiceGame)
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(ctx context.Context) error {
		return workerserver.Run(ctx, workerserver.RuntimeConfig{
			Port:            cfg.Port,
			GameAddr:        cfg.GameAddr,
			GRPCDialTimeout: cfg.GRPCDialTimeout,
			MaxAttempts:     cfg.MaxAttempts,
			SagaRate:        cfg.SagaRate,
			SagaBurst:       cfg.SagaBurst,
			Backend:         cfg.Backend,
		})
	})
}

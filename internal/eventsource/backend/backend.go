// Package backend opens the event log and snapshot cache a runtime is
// configured with.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aedius/royaumes/internal/eventsource/cache"
	rediscache "github.com/Aedius/royaumes/internal/eventsource/cache/redis"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog/postgres"
	"github.com/Aedius/royaumes/internal/eventsource/eventlog/sqlite"
	"github.com/Aedius/royaumes/internal/platform/timeouts"
)

// Log backends.
const (
	LogMemory   = "memory"
	LogSQLite   = "sqlite"
	LogPostgres = "postgres"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config selects and configures the backends. Field names are relative to
// the service env prefix.
type Config struct {
	Log          string        `env:"LOG" envDefault:"sqlite"`
	SQLitePath   string        `env:"SQLITE_PATH" envDefault:"data/royaumes.db"`
	PostgresDSN  string        `env:"POSTGRES_DSN"`
	LogPoll      time.Duration `env:"LOG_POLL_INTERVAL"`
	Cache        string        `env:"CACHE" envDefault:"memory"`
	RedisAddr    string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass    string        `env:"REDIS_PASSWORD"`
	RedisDB      int           `env:"REDIS_DB"`
	RedisPrefix  string        `env:"REDIS_PREFIX" envDefault:"royaumes:"`
	SnapshotTTL  time.Duration `env:"SNAPSHOT_TTL"`
	PingDeadline time.Duration `env:"PING_TIMEOUT"`
}

// Backends are the opened log and cache.
type Backends struct {
	Log   eventlog.Log
	Cache cache.Cache

	closers []func() error
}

// Open opens the configured log and cache. logf receives backend
// diagnostics; nil discards them.
func Open(ctx context.Context, cfg Config, logf func(string, ...any)) (*Backends, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if cfg.LogPoll <= 0 {
		cfg.LogPoll = timeouts.LogPoll
	}
	if cfg.PingDeadline <= 0 {
		cfg.PingDeadline = timeouts.BackendPing
	}

	b := &Backends{}
	log, err := openLog(ctx, cfg, logf)
	if err != nil {
		return nil, err
	}
	b.Log = log
	b.closers = append(b.closers, log.Close)

	snapshots, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.Cache = snapshots
	if closeCache != nil {
		b.closers = append(b.closers, closeCache)
	}
	logf("backends: %s log, %s cache", normalized(cfg.Log), normalized(cfg.Cache))
	return b, nil
}

// Close releases the backends in reverse order of opening.
func (b *Backends) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func normalized(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}

func openLog(ctx context.Context, cfg Config, logf func(string, ...any)) (eventlog.Log, error) {
	switch normalized(cfg.Log) {
	case LogMemory:
		return eventlog.NewMemory(), nil
	case LogSQLite, "":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create log storage dir: %w", err)
			}
		}
		log, err := sqlite.Open(cfg.SQLitePath, sqlite.WithPollInterval(cfg.LogPoll))
		if err != nil {
			return nil, fmt.Errorf("open sqlite log: %w", err)
		}
		return log, nil
	case LogPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
		openCtx, cancel := context.WithTimeout(ctx, cfg.PingDeadline)
		defer cancel()
		log, err := postgres.Open(openCtx, cfg.PostgresDSN,
			postgres.WithPollInterval(cfg.LogPoll),
			postgres.WithLogf(logf),
		)
		if err != nil {
			return nil, fmt.Errorf("open postgres log: %w", err)
		}
		return log, nil
	default:
		return nil, fmt.Errorf("unknown log backend %q", cfg.Log)
	}
}

func openCache(ctx context.Context, cfg Config) (cache.Cache, func() error, error) {
	switch normalized(cfg.Cache) {
	case CacheMemory, "":
		return cache.NewMemory(), nil, nil
	case CacheNone:
		return cache.Noop{}, nil, nil
	case CacheRedis:
		snapshots := rediscache.New(rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.SnapshotTTL,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingDeadline)
		defer cancel()
		if err := snapshots.Ping(pingCtx); err != nil {
			_ = snapshots.Close()
			return nil, nil, err
		}
		return snapshots, snapshots.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache)
	}
}

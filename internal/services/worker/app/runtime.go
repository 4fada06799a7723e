// Package app runs the worker service: the worker pools answering staffing
// requests sent by the game service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aedius/royaumes/internal/eventsource/backend"
	"github.com/Aedius/royaumes/internal/eventsource/repository"
	"github.com/Aedius/royaumes/internal/eventsource/saga"
	"github.com/Aedius/royaumes/internal/platform/discovery"
	platformgrpc "github.com/Aedius/royaumes/internal/platform/grpc"
	"github.com/Aedius/royaumes/internal/platform/timeouts"
	workerdomain "github.com/Aedius/royaumes/internal/services/worker/domain"
	"github.com/Aedius/royaumes/internal/services/worker/sagas"
)

// HealthService is the health check name reported while sagas run.
const HealthService = "worker.runtime"

// RuntimeConfig controls worker startup. GameAddr, when set, delays startup
// until the game runtime serves. SagaRate caps the saga handlers started per
// second; zero is unlimited.
type RuntimeConfig struct {
	Port            int
	GameAddr        string
	GRPCDialTimeout time.Duration
	MaxAttempts     int
	SagaRate        float64
	SagaBurst       int
	Backend         backend.Config
}

// Runtime holds the opened worker store.
type Runtime struct {
	Pools *workerdomain.Store

	backends   *backend.Backends
	dispatcher *saga.Dispatcher
}

// NewRuntime opens the backends and builds the pool store and its sagas.
func NewRuntime(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	backends, err := backend.Open(ctx, cfg.Backend, log.Printf)
	if err != nil {
		return nil, fmt.Errorf("open worker backends: %w", err)
	}
	opts := []repository.Option{repository.WithLogf(log.Printf)}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, repository.WithMaxAttempts(cfg.MaxAttempts))
	}
	pools, err := workerdomain.NewStore(backends.Log, backends.Cache, opts...)
	if err != nil {
		_ = backends.Close()
		return nil, fmt.Errorf("create worker store: %w", err)
	}

	dispatcher := saga.New(backends.Log, sagaOptions(cfg)...)
	sagas.Register(dispatcher, backends.Log, pools)
	return &Runtime{Pools: pools, backends: backends, dispatcher: dispatcher}, nil
}

// Serve subscribes the sagas, then exposes health on listener until ctx
// ends.
func (r *Runtime) Serve(ctx context.Context, listener net.Listener) error {
	if err := r.dispatcher.Start(ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("start worker sagas: %w", err)
	}
	health := platformgrpc.ServeHealth(listener, HealthService)
	defer health.Stop()

	log.Printf("worker server listening at %v", health.Addr())
	err := r.dispatcher.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the backends.
func (r *Runtime) Close() error {
	return r.backends.Close()
}

// Run starts the worker runtime and blocks until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.DefaultGRPCPort(discovery.ServiceWorker)
	}
	if cfg.GRPCDialTimeout <= 0 {
		cfg.GRPCDialTimeout = timeouts.BackendPing
	}

	if addr := strings.TrimSpace(cfg.GameAddr); addr != "" {
		conn, err := platformgrpc.DialWithHealth(ctx, addr, "", cfg.GRPCDialTimeout, log.Printf)
		if err != nil {
			return fmt.Errorf("wait for game service: %w", err)
		}
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("close game connection: %v", closeErr)
		}
	}

	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			log.Printf("close worker backends: %v", closeErr)
		}
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	return rt.Serve(ctx, listener)
}

func sagaOptions(cfg RuntimeConfig) []saga.Option {
	opts := []saga.Option{saga.WithLogf(log.Printf)}
	if cfg.SagaRate > 0 {
		burst := cfg.SagaBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, saga.WithRateLimit(rate.Limit(cfg.SagaRate), burst))
	}
	return opts
}

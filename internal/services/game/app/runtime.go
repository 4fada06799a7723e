// Package app runs the game service: the account, bank and building stores
// with the sagas linking them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"golang.org/x/time/rate"

	"github.com/Aedius/royaumes/internal/eventsource/backend"
	"github.com/Aedius/royaumes/internal/eventsource/repository"
	"github.com/Aedius/royaumes/internal/eventsource/saga"
	"github.com/Aedius/royaumes/internal/platform/discovery"
	platformgrpc "github.com/Aedius/royaumes/internal/platform/grpc"
	accountdomain "github.com/Aedius/royaumes/internal/services/account/domain"
	bankdomain "github.com/Aedius/royaumes/internal/services/bank/domain"
	buildingdomain "github.com/Aedius/royaumes/internal/services/building/domain"
	"github.com/Aedius/royaumes/internal/services/game/sagas"
)

// HealthService is the health check name reported while sagas run.
const HealthService = "game.runtime"

// RuntimeConfig controls game startup. SagaRate caps the saga handlers
// started per second; zero is unlimited.
type RuntimeConfig struct {
	Port        int
	MaxAttempts int
	SagaRate    float64
	SagaBurst   int
	Backend     backend.Config
}

// Runtime holds the opened game stores.
type Runtime struct {
	Accounts  *accountdomain.Store
	Banks     *bankdomain.Store
	Buildings *buildingdomain.Store

	backends   *backend.Backends
	dispatcher *saga.Dispatcher
}

// NewRuntime opens the backends and builds the stores and sagas.
func NewRuntime(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	backends, err := backend.Open(ctx, cfg.Backend, log.Printf)
	if err != nil {
		return nil, fmt.Errorf("open game backends: %w", err)
	}
	opts := []repository.Option{repository.WithLogf(log.Printf)}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, repository.WithMaxAttempts(cfg.MaxAttempts))
	}

	rt := &Runtime{backends: backends}
	if rt.Accounts, err = accountdomain.NewStore(backends.Log, backends.Cache, opts...); err == nil {
		if rt.Banks, err = bankdomain.NewStore(backends.Log, backends.Cache, opts...); err == nil {
			rt.Buildings, err = buildingdomain.NewStore(backends.Log, backends.Cache, opts...)
		}
	}
	if err != nil {
		_ = backends.Close()
		return nil, fmt.Errorf("create game stores: %w", err)
	}

	rt.dispatcher = saga.New(backends.Log, sagaOptions(cfg)...)
	sagas.Register(rt.dispatcher, backends.Log, sagas.Stores{Banks: rt.Banks, Buildings: rt.Buildings})
	return rt, nil
}

// Serve subscribes the sagas, then exposes health on listener until ctx
// ends. A SERVING status means notifications appended from then on are
// handled.
func (r *Runtime) Serve(ctx context.Context, listener net.Listener) error {
	if err := r.dispatcher.Start(ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("start game sagas: %w", err)
	}
	health := platformgrpc.ServeHealth(listener, HealthService)
	defer health.Stop()

	log.Printf("game server listening at %v", health.Addr())
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

// Run starts the game runtime and blocks until ctx ends.
func Run(ctx context.Context, cfg RuntimeConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = discovery.DefaultGRPCPort(discovery.ServiceGame)
	}
	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			log.Printf("close game backends: %v", closeErr)
		}
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on game port %d: %w", cfg.Port, err)
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

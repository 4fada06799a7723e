// Package cmd holds the startup steps shared by the service commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/Aedius/royaumes/internal/platform/config"
	"github.com/Aedius/royaumes/internal/platform/discovery"
	"github.com/Aedius/royaumes/internal/platform/otel"
	"github.com/Aedius/royaumes/internal/platform/timeouts"
)

// Service identifiers for startup telemetry and env prefixes.
const (
	ServiceGame   = discovery.ServiceGame
	ServiceWorker = discovery.ServiceWorker
)

// EnvPrefix returns the environment prefix of a service, e.g. ROYAUMES_GAME_.
func EnvPrefix(service string) string {
	return config.Prefix + strings.ToUpper(strings.TrimSpace(service)) + "_"
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseServiceConfig loads environment defaults into cfg, with variable
// names relative to the service prefix.
func ParseServiceConfig[T any](service string, cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnvWithPrefix(cfg, EnvPrefix(service))
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// ParseConfigFromArgs loads defaults from env and then parses flags.
func ParseConfigFromArgs[T any](cfg *T, fs *flag.FlagSet, args []string) error {
	if err := ParseConfig(cfg); err != nil {
		return err
	}
	return ParseArgs(fs, args)
}

// RunWithTelemetry configures observability and executes a service run loop.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}

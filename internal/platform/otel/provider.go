// Package otel installs the process-wide OpenTelemetry providers.
package otel

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Aedius/royaumes/internal/platform/config"
)

const metricInterval = 15 * time.Second

// Config selects the exporters.
type Config struct {
	Endpoint        string `env:"ROYAUMES_OTEL_ENDPOINT"`
	MetricsEndpoint string `env:"ROYAUMES_OTEL_METRICS_ENDPOINT"`
	Enabled         string `env:"ROYAUMES_OTEL_ENABLED"`
}

// Active reports whether spans should be exported.
func (c Config) Active() bool {
	return c.Endpoint != "" && !c.disabled()
}

// MetricsActive reports whether the store counters should be exported.
func (c Config) MetricsActive() bool {
	return c.MetricsEndpoint != "" && !c.disabled()
}

func (c Config) disabled() bool {
	return strings.EqualFold(c.Enabled, "false")
}

// Setup initialises OpenTelemetry for the given service.
//
// Both signals are opt-in: spans are exported over OTLP HTTP to
// ROYAUMES_OTEL_ENDPOINT and the store counters over OTLP gRPC to
// ROYAUMES_OTEL_METRICS_ENDPOINT. ROYAUMES_OTEL_ENABLED=false turns both
// off. A signal without an endpoint keeps the global no-op provider.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return noop, err
	}
	if !cfg.Active() && !cfg.MetricsActive() {
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	var shutdowns []func(context.Context) error
	shutdownAll := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			errs = append(errs, fn(ctx))
		}
		return errors.Join(errs...)
	}

	if cfg.Active() {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(cfg.Endpoint),
		)
		if err != nil {
			return noop, err
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	if cfg.MetricsActive() {
		exporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.MetricsEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			_ = shutdownAll(ctx)
			return noop, err
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(metricInterval),
			)),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
	}

	return shutdownAll, nil
}

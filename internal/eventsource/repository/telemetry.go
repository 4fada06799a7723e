package repository

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Aedius/royaumes/internal/eventsource/repository"

type instruments struct {
	tracer trace.Tracer

	appended    metric.Int64Counter
	conflicts   metric.Int64Counter
	rejections  metric.Int64Counter
	replayed    metric.Int64Counter
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
}

func newInstruments(o options) (*instruments, error) {
	tracerProvider := o.tracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	meterProvider := o.meterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	meter := meterProvider.Meter(instrumentationName)

	inst := &instruments{tracer: tracerProvider.Tracer(instrumentationName)}
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&inst.appended, "repository.records.appended", "Records appended by accepted commands", "{record}"},
		{&inst.conflicts, "repository.mutate.conflicts", "Appends rejected by a revision conflict", "{conflict}"},
		{&inst.rejections, "repository.mutate.rejections", "Commands rejected by the aggregate", "{command}"},
		{&inst.replayed, "repository.events.replayed", "Events applied while hydrating", "{event}"},
		{&inst.cacheHits, "repository.cache.hits", "Snapshots read from the cache", "{read}"},
		{&inst.cacheMisses, "repository.cache.misses", "Snapshot reads that missed", "{read}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.description), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}
	return inst, nil
}

func namespaceAttr(namespace string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("model.namespace", namespace))
}

func (i *instruments) start(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("model.key", key)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

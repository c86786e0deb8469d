// Package telemetry configures OpenTelemetry tracing for the host runtime
// and wraps the handful of spans it emits: one per load_pod call, pod
// spawn, and pod shutdown; invokes and the describe exchange get no span of
// their own. Tracing is optional — when no exporter endpoint is
// configured, Setup installs the no-op global tracer provider and every
// span becomes a cheap, recording-free no-op.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "go-pods"

// Config controls whether and where traces are exported.
type Config struct {
	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	// Empty disables export; Setup still returns a usable (no-op) tracer.
	Endpoint string
	Insecure bool
}

// Setup installs a tracer provider per cfg and returns a shutdown func that
// flushes and closes the exporter. Call it once at process startup.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(tracerName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the host runtime's named tracer from whatever provider is
// currently installed (no-op unless Setup was called with an endpoint).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named op, tagged with the pod id when non-empty.
// Callers defer the returned end func, which records err (if non-nil) on
// the span before ending it.
func StartSpan(ctx context.Context, op, podID string) (context.Context, func(err error)) {
	ctx, span := Tracer().Start(ctx, op)
	if podID != "" {
		span.SetAttributes(attribute.String("pod.id", podID))
	}
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

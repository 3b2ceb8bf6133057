// Package telemetry optionally bootstraps an OpenTelemetry tracer
// provider; cmd/evoagent discards the returned Tracer, and no package
// starts spans for agent-loop turns or post-task pipeline stages. Grounded on the
// teacher's build-tag-gated OTLP exporter wiring in cmd/gateway.go,
// using the plain (non-build-tag) otlptracehttp exporter since this
// module has no standalone/managed-mode split to gate behind a tag.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config is the subset of config.TelemetryConfig telemetry needs.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

// Shutdown flushes and stops the tracer provider; call it on process
// exit. It's a no-op when telemetry was never enabled.
type Shutdown func(ctx context.Context) error

// Setup configures the global tracer provider when cfg.Enabled, and
// returns a Tracer plus a Shutdown func. When disabled, it returns the
// no-op global tracer so callers never need to branch on whether
// telemetry is on.
func Setup(ctx context.Context, cfg Config) (trace.Tracer, Shutdown, error) {
	if !cfg.Enabled {
		return otel.Tracer("evoagent"), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: new exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "evoagent"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: new resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Tracer("evoagent"), tp.Shutdown, nil
}

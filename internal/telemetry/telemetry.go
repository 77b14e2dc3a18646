// Package telemetry installs the OpenTelemetry tracer provider used by the
// puzzle engine's spans.
//
// Tracing is off by default and costs nothing when off.
//
//	ENHARMONIC_OTEL_ENABLED=true   enable tracing
//	OTEL_SERVICE_NAME=...          override the service name
//
// Spans are exported as JSON lines to the writer given to Init.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// EnabledEnv turns tracing on when set to "true".
const EnabledEnv = "ENHARMONIC_OTEL_ENABLED"

// Enabled reports whether tracing was requested.
func Enabled() bool {
	return os.Getenv(EnabledEnv) == "true"
}

// Init installs the global tracer provider and returns its shutdown
// function, which flushes pending spans. When tracing is disabled a no-op
// provider is installed and shutdown does nothing.
func Init(ctx context.Context, serviceName, version string, w io.Writer) (shutdown func(context.Context) error, err error) {
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if w == nil {
		return nil, errors.New("telemetry: span writer is required")
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		serviceName = name
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("telemetry: exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Package telemetry wires the shared tracing setup for the queue, realtime
// and announcer binaries. Tracing is opt-in: without an exporter endpoint
// the service runs untraced and the returned shutdown is a no-op.
package telemetry

import (
	"context"
	"log"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	endpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"
	insecureEnv = "OTEL_EXPORTER_OTLP_INSECURE"
)

// Setup installs the global tracer provider for serviceName and returns
// the provider's shutdown func. Exporter failures are logged, never fatal:
// a clinic queue must keep running without its tracing backend.
func Setup(serviceName string) func(context.Context) error {
	endpoint := os.Getenv(endpointEnv)
	if endpoint == "" {
		return noopShutdown
	}

	exporter, err := newExporter(endpoint)
	if err != nil {
		log.Printf("otel exporter error: %v", err)
		return noopShutdown
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		log.Printf("otel resource error: %v", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown
}

func newExporter(endpoint string) (trace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if os.Getenv(insecureEnv) == "true" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

func noopShutdown(context.Context) error { return nil }

package metrics

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

type TracerOptions struct {
	ServiceName string
	Environment string
	Version     string
	// Endpoint is the host:port of an OTLP/HTTP collector.
	Endpoint string
	// SampleRatio is the fraction of root traces recorded, between 0 and 1.
	SampleRatio float64
}

const collectorProbeTimeout = 2 * time.Second

// InitTracer installs a global tracer provider exporting spans over OTLP/HTTP
// and W3C trace-context propagation. It fails fast when the collector does not
// accept connections.
func InitTracer(ctx context.Context, opts TracerOptions) (*sdktrace.TracerProvider, error) {
	probeCtx, cancel := context.WithTimeout(ctx, collectorProbeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(probeCtx, "tcp", opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("OTLP collector at %s is not reachable: %w", opts.Endpoint, err)
	}
	conn.Close()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(opts.ServiceName),
		semconv.ServiceVersionKey.String(opts.Version),
		semconv.DeploymentEnvironmentKey.String(opts.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

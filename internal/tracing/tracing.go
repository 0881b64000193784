// Package tracing wires the OTel SDK so every package's otel.Tracer(...)
// call (e.g. the spawn coordinator's per-spawn span) produces real spans
// instead of a no-op, once the composition root calls Init.
//
// Without cfg.Tracing.Enabled, the global provider stays a no-op: zero
// overhead, same as never importing this package.
package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/kandev/maestro/internal/common/config"
)

var provider *sdktrace.TracerProvider

// Init configures and registers the global TracerProvider from cfg.Tracing.
// A disabled config is a no-op; Shutdown is then also a no-op.
func Init(ctx context.Context, cfg config.TracingConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlpEndpoint is required when tracing.enabled is true")
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpointHost(cfg.OTLPEndpoint)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "maestro"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		res = resource.Default()
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleFraction(cfg.SampleFraction)))

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	return nil
}

func sampleFraction(f float64) float64 {
	if f <= 0 {
		return 1.0
	}
	if f > 1 {
		return 1.0
	}
	return f
}

// endpointHost strips the scheme from the endpoint URL, since
// otlptracehttp.WithEndpoint expects a bare host[:port].
func endpointHost(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(endpoint, prefix) {
			return endpoint[len(prefix):]
		}
	}
	return endpoint
}

// Shutdown flushes pending spans. Safe to call even when Init was never
// called or tracing was disabled.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

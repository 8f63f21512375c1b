// Package tracing wires a process-wide otel TracerProvider, the same
// service-name/sampler-ratio setup core/pkg/trace.InitTracer performs,
// trimmed to the exporter-agnostic SDK surface: callers that want spans
// shipped somewhere configure a concrete exporter and pass it to Init; by
// default spans are sampled and recorded but not exported anywhere, which
// is enough for in-process span propagation and the request IDs already
// carried in audit entries.
package tracing

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

var provider *sdktrace.TracerProvider

// Init builds the global TracerProvider for serviceName. samplingRatio in
// [0,1] controls the fraction of traces the ParentBased/TraceIDRatio
// sampler keeps; exporters, if any, must be attached by the caller via
// additional sdktrace.TracerProviderOption values.
func Init(ctx context.Context, serviceName string, samplingRatio float64, opts ...sdktrace.TracerProviderOption) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("environment", getEnvOrDefault("AIRLOCK_ENV", "production")),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("building otel resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRatio))
	args := append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}, opts...)

	provider = sdktrace.NewTracerProvider(args...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	klog.InfoS("tracing initialized", "service", serviceName, "sampling_ratio", samplingRatio)
	return nil
}

// Shutdown flushes and stops the tracer provider; safe to call even if
// Init was never called or failed.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return provider.Shutdown(shutdownCtx)
}

// StartSpan starts a span named operation on the global tracer.
func StartSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return otel.Tracer("airlock").Start(ctx, operation)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

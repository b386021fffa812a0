package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentation = "awards-miles-api/internal/service"

type Config struct {
	Enabled     bool
	Endpoint    string // Jaeger collector URL
	ServiceName string
	Environment string
	SampleRatio float64
}

var (
	mu       sync.RWMutex
	provider trace.TracerProvider = noop.NewTracerProvider()
	flush                         = func(context.Context) error { return nil }
)

// Setup exports spans to Jaeger when enabled. Until it succeeds, spans are
// dropped.
func Setup(cfg Config) error {
	if !cfg.Enabled {
		install(noop.NewTracerProvider(), func(context.Context) error { return nil })
		return nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return fmt.Errorf("failed to describe service: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	install(tp, tp.Shutdown)
	return nil
}

// sampler keeps ratio of new traces and follows the caller's decision for
// propagated ones.
func sampler(ratio float64) tracesdk.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return tracesdk.ParentBased(tracesdk.AlwaysSample())
	}
	return tracesdk.ParentBased(tracesdk.TraceIDRatioBased(ratio))
}

func install(tp trace.TracerProvider, shutdown func(context.Context) error) {
	mu.Lock()
	defer mu.Unlock()
	provider, flush = tp, shutdown
}

func Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	mu.RLock()
	tp := provider
	mu.RUnlock()
	return tp.Tracer(instrumentation).Start(ctx, name, opts...)
}

// RecordError marks the span as failed.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes pending spans and reverts to dropping them.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	shutdown := flush
	provider, flush = noop.NewTracerProvider(), func(context.Context) error { return nil }
	mu.Unlock()
	return shutdown(ctx)
}

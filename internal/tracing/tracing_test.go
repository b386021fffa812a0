package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_DisabledDropsSpans(t *testing.T) {
	require.NoError(t, Setup(Config{Enabled: false}))

	ctx, span := Start(context.Background(), "test")
	RecordError(span, errors.New("boom"))
	span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, Shutdown(context.Background()))
}

func TestStart_UsesInstalledProvider(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	install(tp, tp.Shutdown)
	t.Cleanup(func() { Shutdown(context.Background()) })

	_, span := Start(context.Background(), "remove_miles")
	RecordError(span, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "remove_miles", ended[0].Name())
	assert.Equal(t, "boom", ended[0].Status().Description)

	require.NoError(t, Shutdown(context.Background()))
	_, span = Start(context.Background(), "after_shutdown")
	span.End()
	assert.Len(t, recorder.Ended(), 1, "spans after shutdown are dropped")
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
	assert.NotContains(t, sampler(1).Description(), "TraceIDRatioBased")
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
}

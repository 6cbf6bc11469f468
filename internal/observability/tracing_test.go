package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{ServiceName: "editions-test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	span, _ := NewSpan(context.Background(), "noop")
	defer span.End()
	assert.Empty(t, span.TraceID())
}

// keepSpans ignores Shutdown, which would otherwise reset the recorded spans.
type keepSpans struct{ *tracetest.InMemoryExporter }

func (keepSpans) Shutdown(context.Context) error { return nil }

func TestInitTracing_RecordsSweepSpans(t *testing.T) {
	exp := keepSpans{tracetest.NewInMemoryExporter()}
	prevExporter, prevProvider, prevTracer := newExporter, otel.GetTracerProvider(), Tracer
	newExporter = func(context.Context, TracingConfig) (sdktrace.SpanExporter, error) { return exp, nil }
	t.Cleanup(func() {
		newExporter = prevExporter
		otel.SetTracerProvider(prevProvider)
		Tracer = prevTracer
	})

	shutdown, err := InitTracing(context.Background(), TracingConfig{
		ServiceName:  "editions-test",
		Enabled:      true,
		Exporter:     "otlp",
		SamplerRatio: 1,
	})
	require.NoError(t, err)

	span, ctx := TraceSweep(context.Background(), "stale_purchases")
	assert.NotEmpty(t, span.TraceID())
	child, _ := TraceRPC(ctx, "stripe", "cancel_intent")
	child.SetError(errors.New("boom"))
	child.End()
	span.End()

	require.NoError(t, shutdown(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "stripe.cancel_intent", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Equal(t, "sweep.stale_purchases", spans[1].Name)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

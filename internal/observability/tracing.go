package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer starts every span in the pipeline. InitTracing replaces it.
var Tracer trace.Tracer = otel.Tracer("editions")

// TracingConfig selects the exporter and sampling for one process.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool
	// Exporter is "otlp" or "stdout".
	Exporter     string
	OTLPEndpoint string
	// Insecure sends OTLP over plain HTTP.
	Insecure     bool
	SamplerRatio float64
}

var newExporter = func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Exporter != "otlp" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// InitTracing installs the global tracer provider and propagators. The
// returned func flushes pending spans; it is a no-op when tracing is off.
func InitTracing(ctx context.Context, cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		Tracer = otel.Tracer(cfg.ServiceName)
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s trace exporter: %w", cfg.Exporter, err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplerRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	Tracer = tp.Tracer(cfg.ServiceName)
	return tp.Shutdown, nil
}

// Span pairs an OpenTelemetry span with nil-safe helpers.
type Span struct {
	span trace.Span
}

// NewSpan starts a span on Tracer.
func NewSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (*Span, context.Context) {
	ctx, span := Tracer.Start(ctx, name, opts...)
	return &Span{span: span}, ctx
}

func (s *Span) AddAttributes(attrs ...attribute.KeyValue) {
	if s.span != nil {
		s.span.SetAttributes(attrs...)
	}
}

// SetError records err and marks the span failed. A nil err is ignored.
func (s *Span) SetError(err error) {
	if s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *Span) End() {
	if s.span != nil {
		s.span.End()
	}
}

// TraceID is empty for unsampled spans.
func (s *Span) TraceID() string {
	if s.span == nil || !s.span.SpanContext().HasTraceID() {
		return ""
	}
	return s.span.SpanContext().TraceID().String()
}

// TraceJob starts a consumer span for one job attempt.
func TraceJob(ctx context.Context, jobType, jobID string, attempt int) (*Span, context.Context) {
	span, ctx := NewSpan(ctx, "job."+jobType, trace.WithSpanKind(trace.SpanKindConsumer))
	span.AddAttributes(
		attribute.String("job.type", jobType),
		attribute.String("job.id", jobID),
		attribute.Int("job.attempt", attempt),
	)
	return span, ctx
}

// TraceSweep starts an internal span for one reconciliation sweep run.
func TraceSweep(ctx context.Context, sweep string) (*Span, context.Context) {
	span, ctx := NewSpan(ctx, "sweep."+sweep, trace.WithSpanKind(trace.SpanKindInternal))
	span.AddAttributes(attribute.String("sweep.name", sweep))
	return span, ctx
}

// TraceRPC starts a client span for an outbound call to a remote authority
// such as the chain RPC, the relay or the payment processor.
func TraceRPC(ctx context.Context, system, method string) (*Span, context.Context) {
	span, ctx := NewSpan(ctx, system+"."+method, trace.WithSpanKind(trace.SpanKindClient))
	span.AddAttributes(
		attribute.String("rpc.system", system),
		attribute.String("rpc.method", method),
	)
	return span, ctx
}

package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"

	"mercator-hq/warden/pkg/config"
)

const instrumentationName = "mercator-hq/warden"

// Tracer wraps the OpenTelemetry tracer. A nil *Tracer is valid and behaves
// like a disabled one.
type Tracer struct {
	config   *config.TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// New creates a tracer from cfg. If tracing is disabled a noop tracer is
// returned. The tracer must be shut down on exit.
func New(cfg *config.TracingConfig, serviceVersion string) (*Tracer, error) {
	if cfg == nil {
		return nil, errors.New("tracing config is nil")
	}

	t := &Tracer{
		config:  cfg,
		enabled: cfg.Enabled,
	}

	if !cfg.Enabled {
		t.tracer = noop.NewTracerProvider().Tracer(instrumentationName)
		return t, nil
	}

	sampler, err := createSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}

	exporter, err := createOTLPExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	t.tracer = t.provider.Tracer(instrumentationName)
	return t, nil
}

// NewWithProvider creates an enabled tracer over an existing provider.
// Tests use it with an in-memory span recorder.
func NewWithProvider(provider *sdktrace.TracerProvider) *Tracer {
	return &Tracer{
		config:   &config.TracingConfig{Enabled: true},
		tracer:   provider.Tracer(instrumentationName),
		provider: provider,
		enabled:  true,
	}
}

// Start creates a span linked to any parent span in ctx. The span must be
// ended by the caller.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName).Start(ctx, name, opts...)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Enabled returns whether tracing is enabled.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

func createOTLPExporter(cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}

	// The gRPC connection is established lazily, so an unreachable collector
	// does not block startup.
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// TraceID returns the trace ID from ctx, or "" if there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SetError records err on the span and marks it failed. A nil error sets
// status OK.
func SetError(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(attribute.Bool("error", true))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Package telemetry implements the engine's tracer on OpenTelemetry,
// exporting spans over OTLP (gRPC or HTTP).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	config "github.com/windrowio/windrow/pkg/windrow/config"
	coremetrics "github.com/windrowio/windrow/pkg/windrow/core/metrics"
	model "github.com/windrowio/windrow/pkg/windrow/core/model"
)

// NewTracerProvider builds an OTLP-exporting trace provider from the
// telemetry configuration. The caller owns the provider and must call
// Shutdown on it.
func NewTracerProvider(ctx context.Context, cfg config.TelemetryConfig) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported telemetry protocol: %s", cfg.Protocol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "windrow"
	}
	res := sdkresource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	), nil
}

// Tracer is an OpenTelemetry implementation of the metrics.Tracer
// interface.
type Tracer struct {
	tracer trace.Tracer
}

var _ coremetrics.Tracer = (*Tracer)(nil)

// NewTracer creates a Tracer on the given provider.
func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer("github.com/windrowio/windrow")}
}

// StartRunSpan starts a span for an execution attempt.
func (t *Tracer) StartRunSpan(ctx context.Context, record *model.ExecutionRecord) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "windrow.run",
		trace.WithAttributes(
			attribute.String("windrow.work_unit", record.WorkUnit),
			attribute.String("windrow.execution_id", record.ID),
			attribute.Int("windrow.restart_count", record.RestartCount),
		))
	return ctx, func() { span.End() }
}

// StartChunkSpan starts a span for one chunk of a partition's loop.
func (t *Tracer) StartChunkSpan(ctx context.Context, workUnit, step string, partition int, sequence int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "windrow.chunk",
		trace.WithAttributes(
			attribute.String("windrow.work_unit", workUnit),
			attribute.String("windrow.step", step),
			attribute.Int("windrow.partition", partition),
			attribute.Int("windrow.chunk_sequence", sequence),
		))
	return ctx, func() { span.End() }
}

// RecordError records an error on the span in the context, if any.
func (t *Tracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("windrow.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

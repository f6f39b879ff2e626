// Package tracing installs an OpenTelemetry tracer provider and offers a
// named Tracer plus span-attribute helpers for topics, event types,
// migrators, and read-model namespaces. No other package in this module
// starts spans itself; callers create them with Tracer. Grounded on
// internal/observability/tracing.go's InitTracing/Tracer/span-attribute
// helpers from the teacher, renamed from the teacher's stream/schema/
// record/pipeline domain to this framework's event-type/topic/migrator/
// namespace domain.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config mirrors the teacher's TracingConfig shape.
type Config struct {
	Enabled      bool
	ServiceName  string
	Exporter     string // otlp, stdout
	OTLPEndpoint string
	SampleRatio  float64
}

// Init initializes and installs the global OpenTelemetry tracer provider,
// returning nil if tracing is disabled, per the teacher's InitTracing.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "sequent"
	}
	if cfg.SampleRatio <= 0 {
		cfg.SampleRatio = 0.1
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		exporter = exp
	case "stdout", "":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}

	var sampler sdktrace.Sampler
	if cfg.SampleRatio >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// Tracer returns a named tracer for a component, e.g. "eventtype" or
// "readmodel".
func Tracer(component string) trace.Tracer {
	return otel.Tracer("sequent/" + component)
}

// Span attribute helpers, renamed from the teacher's stream/schema/record/
// pipeline vocabulary to this framework's topic/event-type/migrator/
// namespace vocabulary.
func TopicNameAttr(name string) attribute.KeyValue {
	return attribute.String("sequent.topic.name", name)
}

func EventTypeNameAttr(name string) attribute.KeyValue {
	return attribute.String("sequent.event_type.name", name)
}

func MigratorNonceAttr(nonce int) attribute.KeyValue {
	return attribute.Int("sequent.migrator.nonce", nonce)
}

func NamespaceAttr(namespace string) attribute.KeyValue {
	return attribute.String("sequent.read_model.namespace", namespace)
}

// Package telemetry wires OpenTelemetry tracing for the pipeline. A Manager
// owns the tracer provider; package-level helpers fall back to the global
// tracer so instrumented code works with or without a configured manager.
package telemetry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cexll/linguahome-go"

// Config describes the exporting side of tracing. An empty Endpoint keeps
// spans in-process (no exporter), which is what tests and the bare CLI use.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
}

// Manager owns the tracer provider lifecycle.
type Manager struct {
	provider *sdktrace.TracerProvider
}

var defaultManager atomic.Pointer[Manager]

// NewManager builds a tracer provider and installs it as the global OTEL
// provider. With an OTLP endpoint configured, spans export over HTTP.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "linguahome"
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: create OTLP exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	mgr := &Manager{provider: provider}
	defaultManager.Store(mgr)
	return mgr, nil
}

// Shutdown flushes and stops the tracer provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// StartSpan begins a span on the globally installed tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// EndSpan records err (if any) and finishes the span.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

var secretPattern = regexp.MustCompile(`(?i)(sk-[a-z0-9\-_]{8,}|api[_-]?key\s*[=:]\s*\S+|bearer\s+\S+)`)

// SanitizeAttributes masks secret-looking substrings in string attribute
// values before they are attached to a span.
func SanitizeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Value.Type() == attribute.STRING {
			masked := secretPattern.ReplaceAllString(attr.Value.AsString(), "***")
			out = append(out, attribute.String(string(attr.Key), masked))
			continue
		}
		out = append(out, attr)
	}
	return out
}

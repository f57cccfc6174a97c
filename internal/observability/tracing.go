package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/pagecast/narrator"

// InitTracing registers an SDK tracer provider as the global provider. When
// exporter is nil spans are recorded but not exported.
func InitTracing(exporter sdktrace.SpanExporter) (shutdown func(context.Context) error) {
	var opts []sdktrace.TracerProviderOption
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// StartSpan starts a span from the globally registered tracer provider.
// The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

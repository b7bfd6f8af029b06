package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// TracerName is the instrumentation name used for every meterd span.
const TracerName = "git.home.luguber.info/inful/meterd"

// LogExporter writes finished spans to a logger at debug level, or at warn
// level when the span ended with an error status.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter returns an exporter writing to logger.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []slog.Attr{
			slog.String("span", s.Name()),
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			logfields.Duration(s.EndTime().Sub(s.StartTime())),
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		level := slog.LevelDebug
		if st := s.Status(); st.Code == codes.Error {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("status", st.Description))
		}
		e.logger.LogAttrs(ctx, level, "Span ended", attrs...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error { return nil }

// Tracing owns the process tracer provider.
type Tracing struct {
	provider trace.TracerProvider
	sdk      *sdktrace.TracerProvider
}

// SetupTracing installs a tracer provider as the global one. When disabled
// the provider is a no-op; otherwise spans are sampled at ratio and written
// to logger.
func SetupTracing(enabled bool, ratio float64, logger *slog.Logger) *Tracing {
	t := &Tracing{}
	if !enabled {
		t.provider = noop.NewTracerProvider()
	} else {
		if ratio <= 0 || ratio > 1 {
			ratio = 1
		}
		t.sdk = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
			sdktrace.WithSyncer(NewLogExporter(logger)),
		)
		t.provider = t.sdk
	}
	otel.SetTracerProvider(t.provider)
	return t
}

// Provider returns the installed provider.
func (t *Tracing) Provider() trace.TracerProvider { return t.provider }

// Tracer returns the meterd tracer.
func (t *Tracing) Tracer() trace.Tracer { return t.provider.Tracer(TracerName) }

// Shutdown flushes and stops the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.sdk == nil {
		return nil
	}
	return t.sdk.Shutdown(ctx)
}

package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// LogContext holds request-scoped logging fields.
type LogContext struct {
	CommandID string
	Verb      string
	Source    string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithCommandID adds a command ID to the context.
func WithCommandID(ctx context.Context, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.CommandID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithVerb adds the inbound verb to the context.
func WithVerb(ctx context.Context, verb string) context.Context {
	lc := extractLogContext(ctx)
	lc.Verb = verb
	return context.WithValue(ctx, logContextKey, lc)
}

// WithSource adds the inbound surface (http, nats, control, cli) to the context.
func WithSource(ctx context.Context, source string) context.Context {
	lc := extractLogContext(ctx)
	lc.Source = source
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

// GetContext returns the logging fields carried by ctx.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// Attrs returns the context fields as log attributes, including the trace
// ID of the active span when there is one.
func Attrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	var attrs []slog.Attr
	if lc.CommandID != "" {
		attrs = append(attrs, logfields.CommandID(lc.CommandID))
	}
	if lc.Verb != "" {
		attrs = append(attrs, logfields.Verb(lc.Verb))
	}
	if lc.Source != "" {
		attrs = append(attrs, logfields.Source(lc.Source))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
	}
	return attrs
}

// Log writes msg with the context fields followed by attrs.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, level, msg, append(Attrs(ctx), attrs...)...)
}

// InfoContext logs at info level with context fields.
func InfoContext(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	Log(ctx, logger, slog.LevelInfo, msg, attrs...)
}

// WarnContext logs at warn level with context fields.
func WarnContext(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	Log(ctx, logger, slog.LevelWarn, msg, attrs...)
}

// ErrorContext logs at error level with context fields.
func ErrorContext(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	Log(ctx, logger, slog.LevelError, msg, attrs...)
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger on w whose level follows level.
func NewLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

var logger *slog.Logger

// Init installs the process logger. Records go to stdout as JSON and to the
// global OpenTelemetry logger provider set up by the telemetry package.
func Init(serviceName, environment, level string) {
	InitWithWriter(os.Stdout, serviceName, environment, level)
}

func InitWithWriter(w io.Writer, serviceName, environment, level string) {
	minLevel := ParseLevel(level, environment)
	opts := &slog.HandlerOptions{
		Level: minLevel,
	}

	otelHandler := otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(global.GetLoggerProvider()))
	jsonHandler := slog.NewJSONHandler(w, opts)

	multiHandler := &multiHandler{
		level:    minLevel,
		handlers: []slog.Handler{otelHandler, jsonHandler},
	}

	logger = slog.New(multiHandler).With(
		slog.String("service", serviceName),
		slog.String("environment", environment),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a level name to a slog level. An empty name defaults to
// debug in development and info elsewhere.
func ParseLevel(level, environment string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if environment == "development" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func Logger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func WithContext(ctx context.Context) *slog.Logger {
	l := Logger()
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return l
	}
	return l.With(
		slog.String("traceId", span.SpanContext().TraceID().String()),
		slog.String("spanId", span.SpanContext().SpanID().String()),
	)
}

func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).DebugContext(ctx, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).InfoContext(ctx, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).WarnContext(ctx, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).ErrorContext(ctx, msg, args...)
}

// multiHandler sends logs to multiple handlers. Records below level reach
// none of them; the otelslog handler has no level option of its own.
type multiHandler struct {
	level    slog.Level
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.level {
		return false
	}
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.level {
		return nil
	}
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{level: h.level, handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{level: h.level, handlers: handlers}
}

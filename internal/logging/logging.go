// Package logging provides the process-wide structured logger, bridged
// into OpenTelemetry so log records carry trace context when a tracer
// is active.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/sdk/log"
)

// NewLogger builds the process logger: a slog.Logger whose records go
// to a plain text handler on stderr and to an OpenTelemetry slog bridge.
func NewLogger() (*slog.Logger, func(context.Context) error, error) {
	// The provider is built with no processor or exporter, so records
	// handed to the OpenTelemetry bridge do not leave the process; the
	// stderr text handler is the only sink that emits them.
	provider := log.NewLoggerProvider()
	otelHandler := otelslog.NewHandler("im-delivery-service", otelslog.WithLoggerProvider(provider))

	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(fanoutHandler{handlers: []slog.Handler{textHandler, otelHandler}})
	return logger, provider.Shutdown, nil
}

// fanoutHandler writes every record to each of its handlers in turn, so
// the console always has a human-readable record regardless of whether
// an OpenTelemetry collector is attached.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: next}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: next}
}

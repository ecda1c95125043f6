package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns the attributes describing the current activation.
// It is called once per record, so it must be cheap and safe for concurrent use.
type ContextProvider func() []slog.Attr

// ContextHandler wraps another handler and injects dynamic context attributes.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler creates a handler that adds dynamic context to each record.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{
		inner:    inner,
		provider: provider,
	}
}

// ActivationAttrs builds the standard activation attributes, skipping empty values.
func ActivationAttrs(activationID, markerID, state string) []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if activationID != "" {
		attrs = append(attrs, slog.String("activationId", activationID))
	}
	if markerID != "" {
		attrs = append(attrs, slog.String("markerId", markerID))
	}
	if state != "" {
		attrs = append(attrs, slog.String("state", state))
	}
	return attrs
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		inner:    h.inner.WithAttrs(attrs),
		provider: h.provider,
	}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{
		inner:    h.inner.WithGroup(name),
		provider: h.provider,
	}
}

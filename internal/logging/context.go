package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	areaIDKey ctxKey = iota
	actionKey
	reactionKey
)

// WithAreaID returns a context with the area ID set.
func WithAreaID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, areaIDKey, id)
}

// WithAction returns a context with the action type set.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey, name)
}

// WithReaction returns a context with the reaction type set.
func WithReaction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, reactionKey, name)
}

// AreaID extracts the area ID from the context, or "" if absent.
func AreaID(ctx context.Context) string {
	v, _ := ctx.Value(areaIDKey).(string)
	return v
}

// Action extracts the action type from the context, or "" if absent.
func Action(ctx context.Context) string {
	v, _ := ctx.Value(actionKey).(string)
	return v
}

// Reaction extracts the reaction type from the context, or "" if absent.
func Reaction(ctx context.Context) string {
	v, _ := ctx.Value(reactionKey).(string)
	return v
}

// WithIDs sets the area ID and action type on the context at once.
func WithIDs(ctx context.Context, areaID, action string) context.Context {
	ctx = WithAreaID(ctx, areaID)
	ctx = WithAction(ctx, action)
	return ctx
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := AreaID(ctx); v != "" {
		attrs = append(attrs, slog.String("area_id", v))
	}
	if v := Action(ctx); v != "" {
		attrs = append(attrs, slog.String("action", v))
	}
	if v := Reaction(ctx); v != "" {
		attrs = append(attrs, slog.String("reaction", v))
	}
	return attrs
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

package logger

import (
	"context"
	"log/slog"
	"strings"
)

// Redacted replaces the value of any attribute whose key names
// password- or secret-derived material.
const Redacted = "[REDACTED]"

// RedactingHandler wraps another slog.Handler and rewrites sensitive
// attributes before they reach it. A key is sensitive when it contains
// any of the configured field names, case-insensitively — so both
// "password" and "user_password" are caught by the field "password".
// The engine never logs raw password or secret bytes on purpose; this
// layer is for the attribute someone adds during debugging without
// thinking about where the log file ends up.
type RedactingHandler struct {
	next   slog.Handler
	fields []string
}

// NewRedactingHandler wraps next, redacting attributes matching fields.
func NewRedactingHandler(next slog.Handler, fields []string) *RedactingHandler {
	lowered := make([]string, len(fields))
	for i, f := range fields {
		lowered[i] = strings.ToLower(f)
	}
	return &RedactingHandler{next: next, fields: lowered}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redact(a))
		return true
	})
	return h.next.Handle(ctx, clean)
}

// WithAttrs implements slog.Handler. Handler-level attributes are
// redacted here, once, rather than on every record.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redact(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(clean), fields: h.fields}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), fields: h.fields}
}

func (h *RedactingHandler) redact(a slog.Attr) slog.Attr {
	if h.sensitive(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		clean := make([]any, 0, len(members))
		for _, m := range members {
			clean = append(clean, h.redact(m))
		}
		return slog.Group(a.Key, clean...)
	}
	return a
}

func (h *RedactingHandler) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, f := range h.fields {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

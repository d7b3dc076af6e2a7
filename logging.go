package takopi

import (
	"context"
	"log/slog"
	"regexp"
)

// discardHandler is a slog.Handler that drops every record. Grounded on
// store/sqlite.go's identically-shaped nopLogger/discardHandler pair; every
// component in this module defaults to silence unless cmd/takopi wires a
// real logger in via a WithLogger option.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// nopLogger is the shared silent logger every component defaults to.
var nopLogger = slog.New(discardHandler{})

// botTokenPattern matches Telegram bot-token-shaped substrings: a numeric
// bot id followed by a colon and a base64url secret of at least 10 chars,
// optionally prefixed "bot". Per spec.md §7 "Secret handling".
var botTokenPattern = regexp.MustCompile(`\bbot\d+:[A-Za-z0-9_-]{10,}\b|\b\d+:[A-Za-z0-9_-]{10,}\b`)

// redactingHandler wraps another slog.Handler and replaces bot-token-shaped
// substrings in every attribute value and the record message before
// delegating. It is idempotent (redacted output does not match the pattern
// again) and, per spec.md §9 "Token redaction", swallows rather than
// propagates any formatting error from the wrapped handler.
type redactingHandler struct {
	next slog.Handler
}

// NewRedactingHandler wraps next so that any Telegram-bot-token-shaped
// substring is replaced with a placeholder before the record reaches it.
func NewRedactingHandler(next slog.Handler) slog.Handler {
	return &redactingHandler{next: next}
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	redacted := slog.NewRecord(r.Time, r.Level, redactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(redactAttr(a))
		return true
	})
	// Swallow rather than propagate: a record that fails to format must
	// never fall back to an unredacted path.
	_ = h.next.Handle(ctx, redacted)
	return nil
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name)}
}

func redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, redactString(a.Value.String()))
	}
	return a
}

func redactString(s string) string {
	return botTokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		if len(match) >= 3 && match[:3] == "bot" {
			return "bot[REDACTED]"
		}
		return "[REDACTED_TOKEN]"
	})
}

package logging

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[redacted]"

// maxTextRunes caps user text in logs; commands may be a few thousand characters.
const maxTextRunes = 160

var secretKeys = map[string]bool{
	"secret":          true,
	"shared_secret":   true,
	"authorization":   true,
	"x-router-secret": true,
	"api_key":         true,
	"password":        true,
}

var textKeys = map[string]bool{
	"command": true,
	"query":   true,
	"text":    true,
}

// scrubber hides credentials and clips command text before records reach the output handler.
type scrubber struct {
	next slog.Handler
}

func (s scrubber) Enabled(ctx context.Context, level slog.Level) bool {
	return s.next.Enabled(ctx, level)
}

func (s scrubber) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(scrubAttr(a))
		return true
	})
	return s.next.Handle(ctx, out)
}

func (s scrubber) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = scrubAttr(a)
	}
	return scrubber{next: s.next.WithAttrs(clean)}
}

func (s scrubber) WithGroup(name string) slog.Handler {
	return scrubber{next: s.next.WithGroup(name)}
}

func scrubAttr(a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	switch {
	case secretKeys[key]:
		return slog.String(a.Key, redacted)
	case a.Value.Kind() == slog.KindGroup:
		group := a.Value.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = scrubAttr(g)
		}
		return slog.Group(a.Key, clean...)
	case textKeys[key] && a.Value.Kind() == slog.KindString:
		return slog.String(a.Key, clip(a.Value.String()))
	}
	return a
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) <= maxTextRunes {
		return s
	}
	return string(runes[:maxTextRunes]) + "…"
}

package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanout writes every record to each of its enabled handlers. A failing
// handler does not keep the record from the others; all errors are joined.
type fanout []slog.Handler

func newFanout(handlers ...slog.Handler) fanout {
	out := make(fanout, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// ContextProvider returns attributes computed at log time, e.g. the number of
// buses currently simulated.
type ContextProvider func(ctx context.Context) []slog.Attr

type ctxAttrsKey struct{}

// ContextWith returns a copy of ctx carrying attrs. Records logged with that
// context (InfoContext and friends) through a SlogManager logger get them
// appended.
func ContextWith(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxAttrsKey{}, merged)
}

func attrsFrom(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

// stamper adds request attributes and provider attributes to each record.
// Keys already present on the record are left alone.
type stamper struct {
	next     slog.Handler
	provider ContextProvider
}

func (s *stamper) Enabled(ctx context.Context, level slog.Level) bool {
	return s.next.Enabled(ctx, level)
}

func (s *stamper) Handle(ctx context.Context, r slog.Record) error {
	extra := attrsFrom(ctx)
	if s.provider != nil {
		extra = append(extra[:len(extra):len(extra)], s.provider(ctx)...)
	}
	if len(extra) == 0 {
		return s.next.Handle(ctx, r)
	}

	seen := make(map[string]bool, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		seen[a.Key] = true
		return true
	})
	for _, a := range extra {
		if seen[a.Key] {
			continue
		}
		seen[a.Key] = true
		r.AddAttrs(a)
	}
	return s.next.Handle(ctx, r)
}

func (s *stamper) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &stamper{next: s.next.WithAttrs(attrs), provider: s.provider}
}

func (s *stamper) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	return &stamper{next: s.next.WithGroup(name), provider: s.provider}
}

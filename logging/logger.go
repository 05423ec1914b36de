// Package logging carries a slog logger, and the mount it reports on,
// through a context.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	mountKey
)

// WithLogger returns ctx carrying l.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger in ctx, or a JSON logger on stderr, with
// the mount in ctx, once mounted, attached as the "mount" group.
func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok || l == nil {
		l = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if m, ok := MountFromContext(ctx); ok && m.ID != uuid.Nil {
		l = m.Attach(l)
	}
	return l
}

// ForOp is FromContext with the operation and any extra attributes
// attached, for example the path an operation works on.
func ForOp(ctx context.Context, op string, attrs ...slog.Attr) *slog.Logger {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("op", op))
	for _, a := range attrs {
		args = append(args, a)
	}
	return FromContext(ctx).With(args...)
}

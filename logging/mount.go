package logging

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Mount identifies one mounted filesystem in its log lines. Image is set
// by tools that know the file the device reads; the rest is filled in at
// mount.
type Mount struct {
	ID      uuid.UUID
	Image   string
	Sectors uint64
	Journal uint64
}

var _ slog.LogValuer = Mount{}

// NewMount returns a Mount with a fresh id, keeping the image of the mount
// already in ctx, if any.
func NewMount(ctx context.Context, sectors uint64, journal uint64) Mount {
	m, _ := MountFromContext(ctx)
	m.ID = uuid.New()
	m.Sectors = sectors
	m.Journal = journal
	return m
}

func (m Mount) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("id", m.ID.String())}
	if m.Image != "" {
		attrs = append(attrs, slog.String("image", m.Image))
	}
	if m.Sectors != 0 {
		attrs = append(attrs, slog.Uint64("sectors", m.Sectors), slog.Uint64("journal", m.Journal))
	}
	return slog.GroupValue(attrs...)
}

// Attach returns l reporting as m.
func (m Mount) Attach(l *slog.Logger) *slog.Logger {
	return l.With(slog.Any("mount", m))
}

func WithMount(ctx context.Context, m Mount) context.Context {
	return context.WithValue(ctx, mountKey, m)
}

func MountFromContext(ctx context.Context) (Mount, bool) {
	m, ok := ctx.Value(mountKey).(Mount)
	return m, ok
}

// WithImage records the image file the next mount in ctx reads.
func WithImage(ctx context.Context, image string) context.Context {
	m, _ := MountFromContext(ctx)
	m.Image = image
	return WithMount(ctx, m)
}

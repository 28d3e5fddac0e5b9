package logger

import (
	"context"
	"log/slog"

	"github.com/rs/zerolog"
)

// slogBridge adapts the process zerolog logger to the slog.Handler contract
// so packages that take a *slog.Logger write into the same stream. Groups
// flatten into dotted key prefixes.
type slogBridge struct {
	zl     *zerolog.Logger
	prefix string
	preset []slog.Attr
}

// NewSlog returns a *slog.Logger backed by zl.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{zl: zl})
}

func zlevel(lvl slog.Level) zerolog.Level {
	switch {
	case lvl <= slog.LevelDebug:
		return zerolog.DebugLevel
	case lvl < slog.LevelWarn:
		return zerolog.InfoLevel
	case lvl < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func (b *slogBridge) Enabled(_ context.Context, lvl slog.Level) bool {
	return zlevel(lvl) >= zerolog.GlobalLevel()
}

func (b *slogBridge) Handle(ctx context.Context, r slog.Record) error {
	ev := FromContext(ctx, b.zl).WithLevel(zlevel(r.Level))
	for _, a := range b.preset {
		ev = b.field(ev, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		ev = b.field(ev, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *b
	cp.preset = append(cp.preset[:len(cp.preset):len(cp.preset)], attrs...)
	return &cp
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	cp := *b
	cp.prefix = cp.prefix + name + "."
	return &cp
}

func (b *slogBridge) field(ev *zerolog.Event, a slog.Attr) *zerolog.Event {
	key := b.prefix + a.Key
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return ev.Str(key, v.String())
	case slog.KindInt64:
		return ev.Int64(key, v.Int64())
	case slog.KindUint64:
		return ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return ev.Float64(key, v.Float64())
	case slog.KindBool:
		return ev.Bool(key, v.Bool())
	case slog.KindDuration:
		return ev.Dur(key, v.Duration())
	case slog.KindTime:
		return ev.Time(key, v.Time())
	default:
		return ev.Interface(key, v.Any())
	}
}

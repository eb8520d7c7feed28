package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stacklok/pkgpulse/internal/config"
)

// levelFromEnv reads PKGPULSE_LOG_LEVEL, then LOG_LEVEL
func levelFromEnv() slog.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	raw := v.GetString("LOG_LEVEL")
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	return parseLevel(raw)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	slog.Warn("Invalid LOG_LEVEL, using INFO", "value", raw)
	return slog.LevelInfo
}

// newLogger returns a slog logger writing JSON lines to w through a zap core
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zapLevel(level),
	)
	return slog.New(&traceHandler{Handler: &zapHandler{core: core}})
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// zapHandler is a slog.Handler writing through a zapcore.Core. Groups map
// to zap namespaces.
type zapHandler struct {
	core zapcore.Core
}

func (h *zapHandler) Enabled(_ context.Context, l slog.Level) bool {
	return h.core.Enabled(zapLevel(l))
}

func (h *zapHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]zapcore.Field, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if f, ok := zapField(a); ok {
			fields = append(fields, f)
		}
		return true
	})

	return h.core.Write(zapcore.Entry{
		Level:   zapLevel(r.Level),
		Time:    r.Time,
		Message: r.Message,
	}, fields)
}

func (h *zapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make([]zapcore.Field, 0, len(attrs))
	for _, a := range attrs {
		if f, ok := zapField(a); ok {
			fields = append(fields, f)
		}
	}
	return &zapHandler{core: h.core.With(fields)}
}

func (h *zapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &zapHandler{core: h.core.With([]zapcore.Field{zap.Namespace(name)})}
}

// zapField converts an attribute; empty attributes are dropped
func zapField(a slog.Attr) (zapcore.Field, bool) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return zapcore.Field{}, false
	}

	switch a.Value.Kind() {
	case slog.KindString:
		return zap.String(a.Key, a.Value.String()), true
	case slog.KindInt64:
		return zap.Int64(a.Key, a.Value.Int64()), true
	case slog.KindUint64:
		return zap.Uint64(a.Key, a.Value.Uint64()), true
	case slog.KindFloat64:
		return zap.Float64(a.Key, a.Value.Float64()), true
	case slog.KindBool:
		return zap.Bool(a.Key, a.Value.Bool()), true
	case slog.KindDuration:
		return zap.Duration(a.Key, a.Value.Duration()), true
	case slog.KindTime:
		return zap.Time(a.Key, a.Value.Time()), true
	case slog.KindGroup:
		nested := make([]zapcore.Field, 0, len(a.Value.Group()))
		for _, ga := range a.Value.Group() {
			if f, ok := zapField(ga); ok {
				nested = append(nested, f)
			}
		}
		if len(nested) == 0 {
			return zapcore.Field{}, false
		}
		// Inline groups have no key
		if a.Key == "" {
			return zap.Inline(fieldList(nested)), true
		}
		return zap.Dict(a.Key, nested...), true
	}

	if err, ok := a.Value.Any().(error); ok {
		return zap.NamedError(a.Key, err), true
	}
	return zap.Any(a.Key, a.Value.Any()), true
}

// fieldList lets a list of fields be inlined into the parent object
type fieldList []zapcore.Field

func (l fieldList) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, f := range l {
		f.AddTo(enc)
	}
	return nil
}

// traceHandler adds trace_id and span_id to every record logged with a
// span in its context.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

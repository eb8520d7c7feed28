package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record), buf.String())
	buf.Reset()
	return record
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "", want: slog.LevelInfo},
		{in: "debug", want: slog.LevelDebug},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " info ", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("PKGPULSE_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "error")
	assert.Equal(t, slog.LevelError, levelFromEnv())

	t.Setenv("PKGPULSE_LOG_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, levelFromEnv())
}

func TestNewLogger_JSONRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo).With("component", "gateway")

	logger.Info("Client connected",
		"session", "abc",
		"count", 3,
		"elapsed", 1500*time.Millisecond,
		"error", errors.New("boom"),
		slog.Group("peer", "port", 5000),
	)

	record := decodeLine(t, &buf)
	assert.Equal(t, "info", record["level"])
	assert.Equal(t, "Client connected", record["msg"])
	assert.Contains(t, record, "time")
	assert.Equal(t, "gateway", record["component"])
	assert.Equal(t, "abc", record["session"])
	assert.InDelta(t, 3, record["count"], 0)
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, map[string]any{"port": float64(5000)}, record["peer"])
}

func TestNewLogger_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	newLogger(&buf, slog.LevelInfo).WithGroup("request").Info("done", "status", 200)

	record := decodeLine(t, &buf)
	assert.Equal(t, map[string]any{"status": float64(200)}, record["request"])
}

func TestNewLogger_LevelFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		min       slog.Level
		log       func(*slog.Logger)
		wantLevel string
	}{
		{name: "debug hidden at info", min: slog.LevelInfo, log: func(l *slog.Logger) { l.Debug("x") }},
		{name: "info hidden at warn", min: slog.LevelWarn, log: func(l *slog.Logger) { l.Info("x") }},
		{name: "debug shown at debug", min: slog.LevelDebug, log: func(l *slog.Logger) { l.Debug("x") }, wantLevel: "debug"},
		{name: "warn shown at warn", min: slog.LevelWarn, log: func(l *slog.Logger) { l.Warn("x") }, wantLevel: "warn"},
		{name: "error shown at warn", min: slog.LevelWarn, log: func(l *slog.Logger) { l.Error("x") }, wantLevel: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			tt.log(newLogger(&buf, tt.min))

			if tt.wantLevel == "" {
				assert.Zero(t, buf.Len())
				return
			}
			assert.Equal(t, tt.wantLevel, decodeLine(t, &buf)["level"])
		})
	}
}

func TestNewLogger_TraceCorrelation(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo).With("component", "test")

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	record := decodeLine(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), record["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), record["span_id"])
	assert.Equal(t, "test", record["component"])

	logger.Info("outside span")
	assert.NotContains(t, decodeLine(t, &buf), "trace_id")
}

// Package otel holds tracing helpers shared by the lookup and session code.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Attribute keys used on pkgpulse spans
const (
	AttrPackageName = attribute.Key("package.name")
	AttrLookup      = attribute.Key("registry.lookup")
	AttrSessionID   = attribute.Key("session.id")
	AttrCacheHit    = attribute.Key("cache.hit")
)

// StartSpan starts a span on tracer. A nil tracer yields a no-op span, so
// ending it never ends a span owned by the caller.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, noop.Span{}
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span failed. The status
// description stays generic; the full error lives in the span event.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "operation failed")
}

// End records err (if any) and ends the span
func End(span trace.Span, err error) {
	RecordError(span, err)
	span.End()
}

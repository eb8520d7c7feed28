package session

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/pkgpulse/internal/telemetry"
)

// Option configures a Session
type Option func(*Session)

// WithInterval sets the tick period. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the clock used to advance snapshots
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithTicker replaces time.NewTicker
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(s *Session) {
		s.newTicker = newTicker
	}
}

// WithMetrics records active sessions and ticks
func WithMetrics(metrics *telemetry.SessionMetrics) Option {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// WithTracer enables a span per track request
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = tracer
	}
}

// WithNameCheck rejects names for which check returns an error
func WithNameCheck(check func(name string) error) Option {
	return func(s *Session) {
		s.nameCheck = check
	}
}

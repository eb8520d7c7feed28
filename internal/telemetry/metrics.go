// Package telemetry provides OpenTelemetry instrumentation for pkgpulse.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// LookupMetricsMeterName is the meter name for registry lookups
	LookupMetricsMeterName = "github.com/stacklok/pkgpulse/registry"

	// CacheMetricsMeterName is the meter name for the snapshot cache
	CacheMetricsMeterName = "github.com/stacklok/pkgpulse/snapshot"

	// SessionMetricsMeterName is the meter name for tracking sessions
	SessionMetricsMeterName = "github.com/stacklok/pkgpulse/session"
)

// Cache lookup outcomes
const (
	CacheResultHit    = "hit"
	CacheResultBuilt  = "built"
	CacheResultShared = "shared"
	CacheResultFailed = "failed"
)

// LookupMetrics holds the instruments for registry lookups
type LookupMetrics struct {
	lookupDuration metric.Float64Histogram
}

// NewLookupMetrics creates LookupMetrics. A nil provider yields nil (no-op) metrics.
func NewLookupMetrics(provider metric.MeterProvider) (*LookupMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(LookupMetricsMeterName)

	lookupDuration, err := meter.Float64Histogram(
		"pkgpulse_lookup_duration_seconds",
		metric.WithDescription("Duration of registry lookups in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	return &LookupMetrics{lookupDuration: lookupDuration}, nil
}

// RecordLookup records one lookup and whether it produced a value
func (m *LookupMetrics) RecordLookup(ctx context.Context, lookup string, duration time.Duration, success bool) {
	if m == nil || m.lookupDuration == nil {
		return
	}

	m.lookupDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("lookup", lookup),
		attribute.Bool("success", success),
	))
}

// CacheMetrics holds the instruments for the snapshot cache
type CacheMetrics struct {
	requests  metric.Int64Counter
	snapshots metric.Int64UpDownCounter
}

// NewCacheMetrics creates CacheMetrics. A nil provider yields nil (no-op) metrics.
func NewCacheMetrics(provider metric.MeterProvider) (*CacheMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(CacheMetricsMeterName)

	requests, err := meter.Int64Counter(
		"pkgpulse_cache_requests_total",
		metric.WithDescription("Snapshot cache requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	snapshots, err := meter.Int64UpDownCounter(
		"pkgpulse_snapshots",
		metric.WithDescription("Number of cached package snapshots"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{requests: requests, snapshots: snapshots}, nil
}

// RecordRequest counts one GetOrCreate call with its outcome
func (m *CacheMetrics) RecordRequest(ctx context.Context, result string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSnapshotCreated counts a new snapshot. Snapshots are never evicted.
func (m *CacheMetrics) RecordSnapshotCreated(ctx context.Context) {
	if m == nil || m.snapshots == nil {
		return
	}
	m.snapshots.Add(ctx, 1)
}

// SessionMetrics holds the instruments for tracking sessions
type SessionMetrics struct {
	activeSessions metric.Int64UpDownCounter
	ticks          metric.Int64Counter
}

// NewSessionMetrics creates SessionMetrics. A nil provider yields nil (no-op) metrics.
func NewSessionMetrics(provider metric.MeterProvider) (*SessionMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SessionMetricsMeterName)

	activeSessions, err := meter.Int64UpDownCounter(
		"pkgpulse_active_sessions",
		metric.WithDescription("Number of sessions currently tracking a package"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	ticks, err := meter.Int64Counter(
		"pkgpulse_ticks_total",
		metric.WithDescription("Extrapolation ticks emitted to clients"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	return &SessionMetrics{activeSessions: activeSessions, ticks: ticks}, nil
}

// SessionStarted increments the active session count
func (m *SessionMetrics) SessionStarted(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// SessionStopped decrements the active session count
func (m *SessionMetrics) SessionStopped(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}

// RecordTick counts one emitted update for a package
func (m *SessionMetrics) RecordTick(ctx context.Context, packageName string, emitted bool) {
	if m == nil || m.ticks == nil {
		return
	}
	m.ticks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("package", packageName),
		attribute.Bool("emitted", emitted),
	))
}

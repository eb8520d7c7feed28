package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/pkgpulse/internal/otel"
	"github.com/stacklok/pkgpulse/internal/registry"
)

// ErrInsufficientData is returned when daily downloads or scores are missing
var ErrInsufficientData = errors.New("insufficient data to build snapshot")

// Builder fetches every source of a package concurrently and merges the
// results into a PackageSnapshot.
type Builder struct {
	client registry.Client
	now    func() time.Time
	tracer trace.Tracer
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithBuilderClock sets the clock stamping new snapshots
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// WithBuilderTracer enables a span per build
func WithBuilderTracer(tracer trace.Tracer) BuilderOption {
	return func(b *Builder) {
		b.tracer = tracer
	}
}

// NewBuilder creates a Builder on top of a registry client
func NewBuilder(client registry.Client, opts ...BuilderOption) *Builder {
	b := &Builder{
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs the five lookups concurrently and waits for all of them. A
// failed lookup never cancels its siblings. Daily downloads and scores are
// required; the other sources are optional.
func (b *Builder) Build(ctx context.Context, name string) (snap *PackageSnapshot, err error) {
	ctx, span := otel.StartSpan(ctx, b.tracer, "snapshot.build",
		trace.WithAttributes(otel.AttrPackageName.String(name)))
	defer func() { otel.End(span, err) }()

	var (
		src                                             Sources
		weekly, total                                   int64
		dailyErr, weeklyErr, totalErr, scoresErr, mdErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		src.Daily, dailyErr = b.client.DailyDownloads(ctx, name)
		return nil
	})
	g.Go(func() error {
		weekly, weeklyErr = b.client.WeeklyDownloads(ctx, name)
		return nil
	})
	g.Go(func() error {
		total, totalErr = b.client.TotalDownloads(ctx, name)
		return nil
	})
	g.Go(func() error {
		src.Scores, scoresErr = b.client.Scores(ctx, name)
		return nil
	})
	g.Go(func() error {
		src.Metadata, mdErr = b.client.Metadata(ctx, name)
		return nil
	})
	_ = g.Wait()

	if scoresErr == nil && src.Scores == nil {
		scoresErr = fmt.Errorf("%w: scores for %s: empty result", registry.ErrUnavailable, name)
	}

	if dailyErr != nil || scoresErr != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrInsufficientData, name, errors.Join(dailyErr, scoresErr))
	}

	if weeklyErr != nil {
		slog.Warn("Weekly downloads unavailable", "package", name, "error", weeklyErr)
	} else {
		src.Weekly = &weekly
	}
	if totalErr != nil {
		slog.Warn("Total downloads unavailable", "package", name, "error", totalErr)
	} else {
		src.Total = &total
	}
	if mdErr != nil {
		slog.Warn("Registry metadata unavailable", "package", name, "error", mdErr)
		src.Metadata = nil
	}

	snap = New(name, src, b.now())
	slog.Info("Snapshot created",
		"package", name,
		"daily_downloads", src.Daily,
		"rate", snap.Rate(),
	)
	return snap, nil
}

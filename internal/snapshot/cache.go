package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/stacklok/pkgpulse/internal/telemetry"
)

// Loader builds the snapshot of a package that is not cached yet
type Loader interface {
	Build(ctx context.Context, name string) (*PackageSnapshot, error)
}

// Cache maps package names to their snapshot for the process lifetime.
// Entries are created once and never refreshed or evicted.
type Cache struct {
	loader  Loader
	metrics *telemetry.CacheMetrics

	mu        sync.RWMutex
	snapshots map[string]*PackageSnapshot
	inflight  singleflight.Group
}

// CacheOption configures a Cache
type CacheOption func(*Cache)

// WithCacheMetrics records hits, builds and the number of cached snapshots
func WithCacheMetrics(metrics *telemetry.CacheMetrics) CacheOption {
	return func(c *Cache) {
		c.metrics = metrics
	}
}

// NewCache creates an empty cache backed by loader
func NewCache(loader Loader, opts ...CacheOption) *Cache {
	c := &Cache{
		loader:    loader,
		snapshots: make(map[string]*PackageSnapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCreate returns the cached snapshot for name, building it on a miss.
// Concurrent misses for the same name share a single build. A failed build
// is not cached.
func (c *Cache) GetOrCreate(ctx context.Context, name string) (*PackageSnapshot, error) {
	if snap := c.Get(name); snap != nil {
		c.metrics.RecordRequest(ctx, telemetry.CacheResultHit)
		return snap, nil
	}

	built := false
	v, err, shared := c.inflight.Do(name, func() (any, error) {
		// A build that finished between Get and Do already stored the entry
		if snap := c.Get(name); snap != nil {
			return snap, nil
		}

		// The build outlives a caller that gives up, since others may wait on it
		snap, err := c.loader.Build(context.WithoutCancel(ctx), name)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.snapshots[name] = snap
		c.mu.Unlock()
		built = true

		c.metrics.RecordSnapshotCreated(ctx)
		slog.Debug("Snapshot cached", "package", name)
		return snap, nil
	})

	switch {
	case err != nil:
		c.metrics.RecordRequest(ctx, telemetry.CacheResultFailed)
		return nil, fmt.Errorf("failed to resolve snapshot for %s: %w", name, err)
	case shared && !built:
		c.metrics.RecordRequest(ctx, telemetry.CacheResultShared)
	case built:
		c.metrics.RecordRequest(ctx, telemetry.CacheResultBuilt)
	default:
		c.metrics.RecordRequest(ctx, telemetry.CacheResultHit)
	}

	return v.(*PackageSnapshot), nil
}

// Get returns the cached snapshot or nil
func (c *Cache) Get(name string) *PackageSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[name]
}

// Len returns the number of cached snapshots
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

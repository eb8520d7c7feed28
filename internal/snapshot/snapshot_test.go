package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/pkgpulse/internal/registry"
)

var epoch = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func int64Ptr(v int64) *int64 {
	return &v
}

func TestAdvance_LeftPad(t *testing.T) {
	t.Parallel()

	snap := New("left-pad", Sources{
		Daily:  1000,
		Scores: &registry.Scores{Popularity: 0.4},
	}, epoch)

	p := snap.Advance(epoch.Add(time.Second))
	assert.Equal(t, int64(1000), p.EstimatedDownloads)
	assert.InDelta(t, 1000.0/SecondsPerDay, p.Rate, 1e-12)

	p = snap.Advance(epoch.Add(100 * time.Second))
	assert.Equal(t, int64(1001), p.EstimatedDownloads)
	assert.Equal(t, int64(1000), p.BaseDownloads)
	assert.Nil(t, p.WeeklyDownloads)
	assert.Nil(t, p.TotalDownloads)
}

func TestAdvance_AddsRateTimesElapsed(t *testing.T) {
	t.Parallel()

	// One download per second keeps the arithmetic exact
	snap := New("express", Sources{
		Daily:  SecondsPerDay,
		Weekly: int64Ptr(7 * SecondsPerDay),
		Total:  int64Ptr(1_000_000),
		Scores: &registry.Scores{},
	}, epoch)

	p := snap.Advance(epoch.Add(30 * time.Second))
	assert.Equal(t, int64(SecondsPerDay+30), p.EstimatedDownloads)
	require.NotNil(t, p.WeeklyDownloads)
	assert.Equal(t, int64(7*SecondsPerDay+30), *p.WeeklyDownloads)
	require.NotNil(t, p.TotalDownloads)
	assert.Equal(t, int64(1_000_030), *p.TotalDownloads)
	assert.Equal(t, epoch.Add(30*time.Second), p.LastUpdated)

	p = snap.Advance(epoch.Add(45 * time.Second))
	assert.Equal(t, int64(SecondsPerDay+45), p.EstimatedDownloads)
	assert.Equal(t, int64(1_000_045), *p.TotalDownloads)
}

func TestAdvance_Monotonic(t *testing.T) {
	t.Parallel()

	snap := New("react", Sources{
		Daily:  12345,
		Weekly: int64Ptr(80000),
		Total:  int64Ptr(9_000_000),
		Scores: &registry.Scores{},
	}, epoch)

	offsets := []time.Duration{
		time.Second, 3 * time.Second, 2 * time.Second, // clock stepped back
		10 * time.Second, 10 * time.Second, -time.Hour, 11 * time.Second,
	}

	prev := snap.Projection()
	for _, off := range offsets {
		p := snap.Advance(epoch.Add(off))
		assert.GreaterOrEqual(t, p.EstimatedDownloads, prev.EstimatedDownloads)
		assert.GreaterOrEqual(t, *p.WeeklyDownloads, *prev.WeeklyDownloads)
		assert.GreaterOrEqual(t, *p.TotalDownloads, *prev.TotalDownloads)
		assert.False(t, p.LastUpdated.Before(prev.LastUpdated))
		assert.Equal(t, prev.Rate, p.Rate)
		prev = p
	}
}

func TestAdvance_ClockBackwardsIsZeroElapsed(t *testing.T) {
	t.Parallel()

	snap := New("lodash", Sources{Daily: SecondsPerDay, Scores: &registry.Scores{}}, epoch)

	p := snap.Advance(epoch.Add(-time.Minute))
	assert.Equal(t, int64(SecondsPerDay), p.EstimatedDownloads)
	assert.Equal(t, epoch, p.LastUpdated)
}

func TestProjection_Floors(t *testing.T) {
	t.Parallel()

	// 43200 per day is half a download per second
	snap := New("tiny", Sources{Daily: 43200, Scores: &registry.Scores{}}, epoch)

	p := snap.Advance(epoch.Add(time.Second))
	assert.Equal(t, int64(43200), p.EstimatedDownloads)

	p = snap.Advance(epoch.Add(3 * time.Second))
	assert.Equal(t, int64(43201), p.EstimatedDownloads)
}

func TestNew_FieldPreference(t *testing.T) {
	t.Parallel()

	md := &registry.Metadata{
		LatestVersion: "1.3.0",
		LastPublished: "2018-04-09T00:00:00.000Z",
		Description:   "registry description",
		License:       "MIT",
		Repository:    "git+https://github.com/a/b.git",
		Maintainers:   []registry.Maintainer{{Name: "registry-user"}},
		Versions:      map[string]registry.VersionInfo{"1.3.0": {Version: "1.3.0"}},
	}

	t.Run("npms metadata wins", func(t *testing.T) {
		t.Parallel()

		snap := New("pkg", Sources{
			Daily: 1,
			Scores: &registry.Scores{
				Popularity:  0.1,
				Quality:     0.2,
				Maintenance: 0.3,
				Description: "npms description",
				License:     "ISC",
				Repository:  "https://github.com/a/b",
				Maintainers: []registry.Maintainer{{Username: "npms-user"}},
			},
			Metadata: md,
		}, epoch)

		p := snap.Projection()
		assert.Equal(t, "npms description", p.Description)
		assert.Equal(t, "ISC", p.License)
		assert.Equal(t, "https://github.com/a/b", p.Repository)
		assert.Equal(t, []registry.Maintainer{{Username: "npms-user"}}, p.Maintainers)
		assert.Equal(t, "1.3.0", p.CurrentVersion)
		assert.Equal(t, "2018-04-09T00:00:00.000Z", p.LastPublished)
		assert.Len(t, p.Versions, 1)
		assert.InDelta(t, 0.2, p.Quality, 1e-12)
	})

	t.Run("registry fills the gaps", func(t *testing.T) {
		t.Parallel()

		snap := New("pkg", Sources{Daily: 1, Scores: &registry.Scores{}, Metadata: md}, epoch)

		p := snap.Projection()
		assert.Equal(t, "registry description", p.Description)
		assert.Equal(t, "MIT", p.License)
		assert.Equal(t, "git+https://github.com/a/b.git", p.Repository)
		assert.Equal(t, []registry.Maintainer{{Name: "registry-user"}}, p.Maintainers)
	})

	t.Run("no metadata", func(t *testing.T) {
		t.Parallel()

		snap := New("pkg", Sources{Daily: 1, Scores: &registry.Scores{}}, epoch)

		p := snap.Projection()
		assert.Empty(t, p.CurrentVersion)
		assert.Nil(t, p.Versions)
	})
}

// Package snapshot builds, caches and extrapolates per-package statistics.
package snapshot

import (
	"math"
	"sync"
	"time"

	"github.com/stacklok/pkgpulse/internal/registry"
)

// SecondsPerDay converts daily downloads into a per-second rate
const SecondsPerDay = 86400

// Sources is the merged result of the registry lookups for one package.
// Weekly and Total are nil when their lookup was unavailable, Metadata is
// nil when the registry document was unavailable.
type Sources struct {
	Daily    int64
	Weekly   *int64
	Total    *int64
	Scores   *registry.Scores
	Metadata *registry.Metadata
}

// PackageSnapshot is the extrapolated state of one package. A single
// instance exists per name and is shared by every session tracking it.
type PackageSnapshot struct {
	name string
	rate float64

	baseDownloads float64
	baseWeekly    *float64
	baseTotal     *float64

	popularity  float64
	quality     float64
	maintenance float64

	description    string
	license        string
	currentVersion string
	lastPublished  string
	repository     string
	maintainers    []registry.Maintainer
	versions       map[string]registry.VersionInfo

	mu          sync.Mutex
	current     float64
	weekly      *float64
	total       *float64
	lastUpdated time.Time
}

// Projection is the payload of a packageUpdate event
type Projection struct {
	Package            string                          `json:"package"`
	EstimatedDownloads int64                           `json:"estimatedDownloads"`
	BaseDownloads      int64                           `json:"baseDownloads"`
	WeeklyDownloads    *int64                          `json:"weeklyDownloads"`
	TotalDownloads     *int64                          `json:"totalDownloads"`
	Rate               float64                         `json:"rate"`
	LastUpdated        time.Time                       `json:"lastUpdated"`
	Popularity         float64                         `json:"popularity"`
	Quality            float64                         `json:"quality"`
	Maintenance        float64                         `json:"maintenance"`
	Description        string                          `json:"description"`
	LastPublished      string                          `json:"lastPublished"`
	License            string                          `json:"license"`
	CurrentVersion     string                          `json:"currentVersion"`
	Maintainers        []registry.Maintainer           `json:"maintainers"`
	Repository         string                          `json:"repository"`
	Versions           map[string]registry.VersionInfo `json:"versions"`
}

// New creates a snapshot from merged sources. created becomes LastUpdated.
// Descriptive fields prefer npms.io and fall back to the registry document.
func New(name string, src Sources, created time.Time) *PackageSnapshot {
	daily := float64(src.Daily)
	s := &PackageSnapshot{
		name:          name,
		rate:          daily / SecondsPerDay,
		baseDownloads: daily,
		current:       daily,
		lastUpdated:   created,
	}

	if src.Weekly != nil {
		s.baseWeekly = floatPtr(float64(*src.Weekly))
		s.weekly = floatPtr(float64(*src.Weekly))
	}
	if src.Total != nil {
		s.baseTotal = floatPtr(float64(*src.Total))
		s.total = floatPtr(float64(*src.Total))
	}

	if sc := src.Scores; sc != nil {
		s.popularity = sc.Popularity
		s.quality = sc.Quality
		s.maintenance = sc.Maintenance
		s.description = sc.Description
		s.license = sc.License
		s.repository = sc.Repository
		s.maintainers = sc.Maintainers
	}

	if md := src.Metadata; md != nil {
		s.currentVersion = md.LatestVersion
		s.lastPublished = md.LastPublished
		s.versions = md.Versions
		if s.description == "" {
			s.description = md.Description
		}
		if s.license == "" {
			s.license = md.License
		}
		if s.repository == "" {
			s.repository = md.Repository
		}
		if len(s.maintainers) == 0 {
			s.maintainers = md.Maintainers
		}
	}

	return s
}

// Name returns the package name
func (s *PackageSnapshot) Name() string {
	return s.name
}

// Rate returns the downloads per second. It never changes.
func (s *PackageSnapshot) Rate() float64 {
	return s.rate
}

// Advance moves the counters forward by rate times the wall-clock seconds
// elapsed since the last update and returns the resulting projection.
// A clock that went backwards counts as zero elapsed time.
func (s *PackageSnapshot) Advance(now time.Time) Projection {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := now.Sub(s.lastUpdated).Seconds()
	if elapsed > 0 {
		delta := s.rate * elapsed
		s.current += delta
		if s.weekly != nil {
			*s.weekly += delta
		}
		if s.total != nil {
			*s.total += delta
		}
		s.lastUpdated = now
	}

	return s.projectLocked()
}

// Projection returns the current state without advancing it
func (s *PackageSnapshot) Projection() Projection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectLocked()
}

func (s *PackageSnapshot) projectLocked() Projection {
	return Projection{
		Package:            s.name,
		EstimatedDownloads: floor(s.current),
		BaseDownloads:      floor(s.baseDownloads),
		WeeklyDownloads:    floorPtr(s.weekly),
		TotalDownloads:     floorPtr(s.total),
		Rate:               s.rate,
		LastUpdated:        s.lastUpdated,
		Popularity:         s.popularity,
		Quality:            s.quality,
		Maintenance:        s.maintenance,
		Description:        s.description,
		LastPublished:      s.lastPublished,
		License:            s.license,
		CurrentVersion:     s.currentVersion,
		Maintainers:        s.maintainers,
		Repository:         s.repository,
		Versions:           s.versions,
	}
}

func floor(v float64) int64 {
	return int64(math.Floor(v))
}

func floorPtr(v *float64) *int64 {
	if v == nil {
		return nil
	}
	f := floor(*v)
	return &f
}

func floatPtr(v float64) *float64 {
	return &v
}

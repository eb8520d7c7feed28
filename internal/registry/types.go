package registry

import "errors"

// ErrUnavailable marks a lookup that failed for any reason: network error,
// non-2xx status or a body that does not have the expected shape.
var ErrUnavailable = errors.New("registry lookup unavailable")

// Maintainer is a package maintainer as reported by npms.io or the registry.
// npms.io fills Username, the registry fills Name.
type Maintainer struct {
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Scores holds the npms.io quality analysis together with the descriptive
// metadata npms.io collected for the package.
type Scores struct {
	Popularity  float64
	Quality     float64
	Maintenance float64

	Description string
	License     string
	Repository  string
	Maintainers []Maintainer
}

// VersionInfo is one entry of the packument's versions table
type VersionInfo struct {
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	License     string `json:"license,omitempty"`
	PublishedAt string `json:"publishedAt,omitempty"`
	Deprecated  string `json:"deprecated,omitempty"`
}

// Metadata is the subset of the registry packument pkgpulse uses
type Metadata struct {
	Name          string
	LatestVersion string
	LastPublished string
	Description   string
	License       string
	Repository    string
	Maintainers   []Maintainer
	Versions      map[string]VersionInfo
}

// pointDownloads is the payload of downloads/point/{period}/{name}
type pointDownloads struct {
	Downloads *int64 `json:"downloads"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Package   string `json:"package"`
}

package registry

const (
	// DefaultDownloadsEndpoint is the npm downloads API
	DefaultDownloadsEndpoint = "https://api.npmjs.org"

	// DefaultRegistryEndpoint is the npm registry serving packuments
	DefaultRegistryEndpoint = "https://registry.npmjs.org"

	// DefaultScoresEndpoint is the npms.io analysis API
	DefaultScoresEndpoint = "https://api.npms.io"

	// DefaultHistoryStart is the first day counted by TotalDownloads.
	// The downloads API holds no data before this date.
	DefaultHistoryStart = "2015-01-01"

	// DateLayout is the day format used by the downloads API
	DateLayout = "2006-01-02"
)

// Package registry provides the lookups pkgpulse performs against the public
// npm ecosystem for a single package.
//
// # Lookups
//
// A Client exposes five independent lookups. Each one issues exactly one HTTP
// request and either returns a value or an error wrapping ErrUnavailable:
//
//   - DailyDownloads:  downloads/point/last-day on the downloads API
//   - WeeklyDownloads: downloads/point/last-week on the downloads API
//   - TotalDownloads:  downloads/range from HistoryStart to today, summed
//   - Scores:          npms.io v2 package analysis (score.detail and collected.metadata)
//   - Metadata:        the registry packument (dist-tags, time, versions)
//
// Callers decide which lookups are mandatory. The client never retries and
// never aborts one lookup because another failed:
//
//	daily, err := client.DailyDownloads(ctx, "left-pad")
//	if errors.Is(err, registry.ErrUnavailable) {
//	    // record the field as absent
//	}
//
// # Endpoints
//
// The default endpoints point at the public services. Tests and mirrors
// override them with WithDownloadsEndpoint, WithRegistryEndpoint and
// WithScoresEndpoint.
package registry

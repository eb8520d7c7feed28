package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/pkgpulse/internal/httpclient"
	"github.com/stacklok/pkgpulse/internal/otel"
	"github.com/stacklok/pkgpulse/internal/telemetry"
	"github.com/stacklok/pkgpulse/internal/versions"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client performs the per-package lookups. Every method makes a single
// attempt and reports failure as an error wrapping ErrUnavailable.
type Client interface {
	// DailyDownloads returns the downloads of the last day
	DailyDownloads(ctx context.Context, name string) (int64, error)

	// WeeklyDownloads returns the downloads of the last week
	WeeklyDownloads(ctx context.Context, name string) (int64, error)

	// TotalDownloads returns the downloads summed from the history start until today
	TotalDownloads(ctx context.Context, name string) (int64, error)

	// Scores returns the npms.io quality scores and collected metadata
	Scores(ctx context.Context, name string) (*Scores, error)

	// Metadata returns the registry packument summary
	Metadata(ctx context.Context, name string) (*Metadata, error)
}

// NPMClient implements Client against the npm downloads API, the npm
// registry and npms.io.
type NPMClient struct {
	http              httpclient.Client
	downloadsEndpoint string
	registryEndpoint  string
	scoresEndpoint    string
	historyStart      string
	now               func() time.Time
	tracer            trace.Tracer
	metrics           *telemetry.LookupMetrics
}

var _ Client = (*NPMClient)(nil)

// Option configures an NPMClient
type Option func(*NPMClient)

// WithDownloadsEndpoint sets the base URL of the downloads API
func WithDownloadsEndpoint(endpoint string) Option {
	return func(c *NPMClient) {
		c.downloadsEndpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithRegistryEndpoint sets the base URL of the registry serving packuments
func WithRegistryEndpoint(endpoint string) Option {
	return func(c *NPMClient) {
		c.registryEndpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithScoresEndpoint sets the base URL of the npms.io API
func WithScoresEndpoint(endpoint string) Option {
	return func(c *NPMClient) {
		c.scoresEndpoint = strings.TrimSuffix(endpoint, "/")
	}
}

// WithHistoryStart sets the first day (YYYY-MM-DD) counted by TotalDownloads
func WithHistoryStart(day string) Option {
	return func(c *NPMClient) {
		c.historyStart = day
	}
}

// WithClock overrides the clock used to compute "today"
func WithClock(now func() time.Time) Option {
	return func(c *NPMClient) {
		c.now = now
	}
}

// WithTracer enables a span per lookup
func WithTracer(tracer trace.Tracer) Option {
	return func(c *NPMClient) {
		c.tracer = tracer
	}
}

// WithMetrics records the duration and outcome of every lookup
func WithMetrics(metrics *telemetry.LookupMetrics) Option {
	return func(c *NPMClient) {
		c.metrics = metrics
	}
}

// NewClient creates an NPMClient on top of the given HTTP client
func NewClient(httpClient httpclient.Client, opts ...Option) *NPMClient {
	c := &NPMClient{
		http:              httpClient,
		downloadsEndpoint: DefaultDownloadsEndpoint,
		registryEndpoint:  DefaultRegistryEndpoint,
		scoresEndpoint:    DefaultScoresEndpoint,
		historyStart:      DefaultHistoryStart,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DailyDownloads implements Client
func (c *NPMClient) DailyDownloads(ctx context.Context, name string) (int64, error) {
	return c.pointDownloads(ctx, "last-day", name)
}

// WeeklyDownloads implements Client
func (c *NPMClient) WeeklyDownloads(ctx context.Context, name string) (int64, error) {
	return c.pointDownloads(ctx, "last-week", name)
}

func (c *NPMClient) pointDownloads(ctx context.Context, period, name string) (n int64, err error) {
	lookup := "downloads " + period
	ctx, span := c.startSpan(ctx, lookup, name)
	start := time.Now()
	defer func() { c.finish(ctx, span, lookup, start, err) }()

	endpoint := fmt.Sprintf("%s/downloads/point/%s/%s", c.downloadsEndpoint, period, downloadsPath(name))
	body, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return 0, unavailable(lookup, name, err)
	}

	var resp pointDownloads
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, unavailable(lookup, name, fmt.Errorf("failed to decode response: %w", err))
	}
	if resp.Downloads == nil {
		return 0, unavailable(lookup, name, errors.New("response has no downloads count"))
	}

	return *resp.Downloads, nil
}

// TotalDownloads implements Client. The range always ends on the current
// UTC day at call time.
func (c *NPMClient) TotalDownloads(ctx context.Context, name string) (total int64, err error) {
	const lookup = "downloads range"
	ctx, span := c.startSpan(ctx, lookup, name)
	start := time.Now()
	defer func() { c.finish(ctx, span, lookup, start, err) }()

	end := c.now().UTC().Format(DateLayout)
	endpoint := fmt.Sprintf("%s/downloads/range/%s:%s/%s",
		c.downloadsEndpoint, c.historyStart, end, downloadsPath(name))

	body, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return 0, unavailable(lookup, name, err)
	}
	if !gjson.ValidBytes(body) {
		return 0, unavailable(lookup, name, errors.New("response is not valid JSON"))
	}

	days := gjson.GetBytes(body, "downloads")
	if !days.IsArray() {
		return 0, unavailable(lookup, name, errors.New("response has no downloads series"))
	}

	days.ForEach(func(_, day gjson.Result) bool {
		total += day.Get("downloads").Int()
		return true
	})
	return total, nil
}

// Scores implements Client
func (c *NPMClient) Scores(ctx context.Context, name string) (scores *Scores, err error) {
	const lookup = "scores"
	ctx, span := c.startSpan(ctx, lookup, name)
	start := time.Now()
	defer func() { c.finish(ctx, span, lookup, start, err) }()

	endpoint := fmt.Sprintf("%s/v2/package/%s", c.scoresEndpoint, url.PathEscape(name))
	body, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return nil, unavailable(lookup, name, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, unavailable(lookup, name, errors.New("response is not valid JSON"))
	}

	doc := gjson.ParseBytes(body)
	detail := doc.Get("score.detail")
	if !detail.IsObject() {
		return nil, unavailable(lookup, name, errors.New("response has no score.detail"))
	}

	meta := doc.Get("collected.metadata")
	scores = &Scores{
		Popularity:  detail.Get("popularity").Float(),
		Quality:     detail.Get("quality").Float(),
		Maintenance: detail.Get("maintenance").Float(),
		Description: meta.Get("description").String(),
		License:     licenseString(meta.Get("license")),
		Repository:  meta.Get("links.repository").String(),
		Maintainers: maintainers(meta.Get("maintainers")),
	}
	return scores, nil
}

// Metadata implements Client
func (c *NPMClient) Metadata(ctx context.Context, name string) (md *Metadata, err error) {
	const lookup = "metadata"
	ctx, span := c.startSpan(ctx, lookup, name)
	start := time.Now()
	defer func() { c.finish(ctx, span, lookup, start, err) }()

	endpoint := fmt.Sprintf("%s/%s", c.registryEndpoint, url.PathEscape(name))
	body, err := c.http.Get(ctx, endpoint)
	if err != nil {
		return nil, unavailable(lookup, name, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, unavailable(lookup, name, errors.New("response is not valid JSON"))
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, unavailable(lookup, name, errors.New("packument is not an object"))
	}

	// Version keys contain dots, so time stamps are read into a map instead
	// of being addressed by path.
	published := make(map[string]string)
	doc.Get("time").ForEach(func(key, value gjson.Result) bool {
		published[key.String()] = value.String()
		return true
	})

	md = &Metadata{
		Name:          doc.Get("name").String(),
		LatestVersion: doc.Get("dist-tags.latest").String(),
		LastPublished: published["modified"],
		Description:   doc.Get("description").String(),
		License:       licenseString(doc.Get("license")),
		Repository:    repositoryURL(doc.Get("repository")),
		Maintainers:   maintainers(doc.Get("maintainers")),
		Versions:      make(map[string]VersionInfo),
	}

	doc.Get("versions").ForEach(func(key, value gjson.Result) bool {
		v := key.String()
		md.Versions[v] = VersionInfo{
			Version:     v,
			Description: value.Get("description").String(),
			License:     licenseString(value.Get("license")),
			PublishedAt: published[v],
			Deprecated:  value.Get("deprecated").String(),
		}
		return true
	})

	if md.LatestVersion == "" && len(md.Versions) > 0 {
		all := make([]string, 0, len(md.Versions))
		for v := range md.Versions {
			all = append(all, v)
		}
		md.LatestVersion = versions.Latest(all)
	}

	return md, nil
}

func (c *NPMClient) startSpan(ctx context.Context, lookup, name string) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, c.tracer, "registry."+strings.ReplaceAll(lookup, " ", "_"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			otel.AttrPackageName.String(name),
			otel.AttrLookup.String(lookup),
		),
	)
}

func (c *NPMClient) finish(ctx context.Context, span trace.Span, lookup string, start time.Time, err error) {
	c.metrics.RecordLookup(ctx, lookup, time.Since(start), err == nil)
	otel.End(span, err)
}

func unavailable(lookup, name string, cause error) error {
	return fmt.Errorf("%w: %s for %s: %w", ErrUnavailable, lookup, name, cause)
}

// downloadsPath escapes each segment of a (possibly scoped) package name.
// The downloads API expects the scope separator as a literal slash.
func downloadsPath(name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// licenseString handles the string, object and legacy array license forms
func licenseString(r gjson.Result) string {
	switch {
	case r.IsObject():
		return r.Get("type").String()
	case r.IsArray():
		first := r.Get("0")
		if first.IsObject() {
			return first.Get("type").String()
		}
		return first.String()
	default:
		return r.String()
	}
}

func repositoryURL(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("url").String()
	}
	return r.String()
}

func maintainers(r gjson.Result) []Maintainer {
	if !r.IsArray() {
		return nil
	}
	var out []Maintainer
	r.ForEach(func(_, m gjson.Result) bool {
		if !m.IsObject() {
			// Old packuments list maintainers as "name <email>"
			out = append(out, Maintainer{Name: m.String()})
			return true
		}
		out = append(out, Maintainer{
			Username: m.Get("username").String(),
			Name:     m.Get("name").String(),
			Email:    m.Get("email").String(),
		})
		return true
	})
	return out
}

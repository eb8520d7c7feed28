package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/pkgpulse/internal/api"
	"github.com/stacklok/pkgpulse/internal/config"
	"github.com/stacklok/pkgpulse/internal/filtering"
	"github.com/stacklok/pkgpulse/internal/gateway"
	"github.com/stacklok/pkgpulse/internal/httpclient"
	"github.com/stacklok/pkgpulse/internal/registry"
	"github.com/stacklok/pkgpulse/internal/session"
	"github.com/stacklok/pkgpulse/internal/snapshot"
	"github.com/stacklok/pkgpulse/internal/telemetry"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second

	registryTracerName = "github.com/stacklok/pkgpulse/registry"
	snapshotTracerName = "github.com/stacklok/pkgpulse/snapshot"
	sessionTracerName  = "github.com/stacklok/pkgpulse/session"
)

// AppOption is a function that configures the app builder
type AppOption func(*appConfig) error

// appConfig collects the options of NewApp. Injected components replace the
// ones built from the configuration, primarily for testing.
type appConfig struct {
	config *config.Config

	httpClient     httpclient.Client
	registryClient registry.Client
	telemetry      *telemetry.Telemetry

	address     string
	middlewares []func(http.Handler) http.Handler
	readTimeout time.Duration
	idleTimeout time.Duration
}

func baseConfig(opts ...AppOption) (*appConfig, error) {
	cfg := &appConfig{
		readTimeout: defaultReadTimeout,
		idleTimeout: defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Address()
	}

	return cfg, nil
}

// NewApp builds every component and wires them together
func NewApp(ctx context.Context, opts ...AppOption) (*App, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	ownsTelemetry := cfg.telemetry == nil
	if ownsTelemetry {
		cfg.telemetry, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.config.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	components, err := buildTrackingComponents(cfg)
	if err != nil {
		if ownsTelemetry {
			_ = cfg.telemetry.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to build tracking components: %w", err)
	}
	components.Telemetry = cfg.telemetry

	app := &App{
		config:        cfg.config,
		components:    components,
		ownsTelemetry: ownsTelemetry,
	}

	app.httpServer, err = buildHTTPServer(cfg, app)
	if err != nil {
		if ownsTelemetry {
			_ = cfg.telemetry.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	return app, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) AppOption {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress overrides the listen address derived from the configured port
func WithAddress(addr string) AppOption {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) AppOption {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithHTTPClient sets the HTTP client used for registry lookups
func WithHTTPClient(c httpclient.Client) AppOption {
	return func(cfg *appConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithRegistryClient replaces the npm registry client (for testing)
func WithRegistryClient(c registry.Client) AppOption {
	return func(cfg *appConfig) error {
		cfg.registryClient = c
		return nil
	}
}

// WithTelemetry uses providers owned by the caller instead of building them
// from the configuration.
func WithTelemetry(t *telemetry.Telemetry) AppOption {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildTrackingComponents wires registry client, snapshot builder and cache,
// session manager and gateway.
func buildTrackingComponents(b *appConfig) (*Components, error) {
	slog.Info("Initializing tracking components")

	meterProvider := b.telemetry.MeterProvider()

	if b.registryClient == nil {
		lookupMetrics, err := telemetry.NewLookupMetrics(meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create lookup metrics: %w", err)
		}
		if b.httpClient == nil {
			b.httpClient = httpclient.NewDefaultClient(b.config.GetRequestTimeout())
		}
		b.registryClient = registry.NewClient(b.httpClient,
			registry.WithDownloadsEndpoint(b.config.Registry.DownloadsEndpoint),
			registry.WithRegistryEndpoint(b.config.Registry.RegistryEndpoint),
			registry.WithScoresEndpoint(b.config.Registry.ScoresEndpoint),
			registry.WithHistoryStart(b.config.Registry.HistoryStart),
			registry.WithTracer(b.telemetry.Tracer(registryTracerName)),
			registry.WithMetrics(lookupMetrics),
		)
	}

	cacheMetrics, err := telemetry.NewCacheMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}
	sessionMetrics, err := telemetry.NewSessionMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create session metrics: %w", err)
	}

	nameFilter, err := filtering.NewNameFilter(b.config.Tracking.Include, b.config.Tracking.Exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to create name filter: %w", err)
	}

	builder := snapshot.NewBuilder(b.registryClient,
		snapshot.WithBuilderTracer(b.telemetry.Tracer(snapshotTracerName)))
	cache := snapshot.NewCache(builder, snapshot.WithCacheMetrics(cacheMetrics))
	sessions := session.NewManager(cache,
		session.WithInterval(b.config.GetTickInterval()),
		session.WithMetrics(sessionMetrics),
		session.WithTracer(b.telemetry.Tracer(sessionTracerName)),
		session.WithNameCheck(nameFilter.Check),
	)
	gw := gateway.New(gateway.NewTrackingHandler(sessions),
		gateway.WithAllowedOrigin(b.config.AllowedOrigin))

	slog.Info("Tracking components initialized",
		"include_patterns", len(b.config.Tracking.Include),
		"exclude_patterns", len(b.config.Tracking.Exclude),
	)

	return &Components{
		Registry: b.registryClient,
		Builder:  builder,
		Cache:    cache,
		Sessions: sessions,
		Gateway:  gw,
	}, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *appConfig, app *App) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	// Telemetry goes first to capture every request
	metricsMiddleware, err := telemetry.MetricsMiddleware(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	b.middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
		metricsMiddleware,
	}, b.middlewares...)

	router := api.NewServer(app,
		api.WithMiddlewares(b.middlewares...),
		api.WithSocketHandler(app.components.Gateway),
		api.WithMetricsHandler(b.telemetry.MetricsHandler()),
	)

	// No write timeout: sockets stream for as long as the client stays
	server := &http.Server{
		Addr:        b.address,
		Handler:     router,
		ReadTimeout: b.readTimeout,
		IdleTimeout: b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

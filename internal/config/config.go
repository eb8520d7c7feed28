// Package config provides configuration loading and management for the pkgpulse server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/pkgpulse/internal/filtering"
	"github.com/stacklok/pkgpulse/internal/gateway"
	"github.com/stacklok/pkgpulse/internal/registry"
	"github.com/stacklok/pkgpulse/internal/telemetry"
)

const (
	// DefaultPort is the port the server listens on
	DefaultPort = 5000

	// DefaultRequestTimeout bounds every upstream lookup
	DefaultRequestTimeout = "10s"

	// DefaultTickInterval is the period between two updates of a session
	DefaultTickInterval = "1s"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "PKGPULSE"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
	v    *viper.Viper
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks; this calls filepath.Clean internally
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithViper reads overrides from v instead of a fresh environment-backed instance.
// Flags bound to v take precedence over the file and the defaults.
func WithViper(v *viper.Viper) Option {
	return func(cfg *loaderConfig) error {
		if v == nil {
			return fmt.Errorf("viper instance is required")
		}
		cfg.v = v
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Port is the TCP port of the HTTP and WebSocket listener
	Port int `yaml:"port,omitempty"`

	// AllowedOrigin is the browser origin allowed to open a socket; "*" allows any
	AllowedOrigin string `yaml:"allowedOrigin,omitempty"`

	Registry  RegistryConfig    `yaml:"registry,omitempty"`
	Tracking  TrackingConfig    `yaml:"tracking,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// RegistryConfig points the lookups at the upstream services
type RegistryConfig struct {
	DownloadsEndpoint string `yaml:"downloadsEndpoint,omitempty"`
	RegistryEndpoint  string `yaml:"registryEndpoint,omitempty"`
	ScoresEndpoint    string `yaml:"scoresEndpoint,omitempty"`

	// HistoryStart is the first day (YYYY-MM-DD) counted in total downloads
	HistoryStart string `yaml:"historyStart,omitempty"`

	// RequestTimeout is a Go duration string, e.g. "10s"
	RequestTimeout string `yaml:"requestTimeout,omitempty"`
}

// TrackingConfig tunes the per-connection update loop
type TrackingConfig struct {
	// TickInterval is a Go duration string, e.g. "1s"
	TickInterval string `yaml:"tickInterval,omitempty"`

	// Include and Exclude are glob patterns restricting the trackable packages
	Include []string `yaml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Port:          DefaultPort,
		AllowedOrigin: gateway.DefaultAllowedOrigin,
		Registry: RegistryConfig{
			DownloadsEndpoint: registry.DefaultDownloadsEndpoint,
			RegistryEndpoint:  registry.DefaultRegistryEndpoint,
			ScoresEndpoint:    registry.DefaultScoresEndpoint,
			HistoryStart:      registry.DefaultHistoryStart,
			RequestTimeout:    DefaultRequestTimeout,
		},
		Tracking: TrackingConfig{
			TickInterval: DefaultTickInterval,
		},
	}
}

// envBindings maps viper keys to the environment variables that override them.
// PORT is honoured for platforms that inject it.
var envBindings = map[string][]string{
	"port":                        {EnvPrefix + "_PORT", "PORT"},
	"allowed-origin":              {EnvPrefix + "_ALLOWED_ORIGIN"},
	"registry.downloads-endpoint": {EnvPrefix + "_DOWNLOADS_ENDPOINT"},
	"registry.registry-endpoint":  {EnvPrefix + "_REGISTRY_ENDPOINT"},
	"registry.scores-endpoint":    {EnvPrefix + "_SCORES_ENDPOINT"},
	"registry.request-timeout":    {EnvPrefix + "_REQUEST_TIMEOUT"},
	"tracking.tick-interval":      {EnvPrefix + "_TICK_INTERVAL"},
}

// LoadConfig builds the configuration from the defaults, an optional YAML
// file and environment or flag overrides, in increasing precedence.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := Default()

	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	v := loaderCfg.v
	if v == nil {
		v = viper.New()
	}
	if err := applyOverrides(v, config); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyOverrides copies every key set in v, directly or through its bound
// environment variables, onto config.
func applyOverrides(v *viper.Viper, config *Config) error {
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if v.IsSet("port") {
		port, err := parsePort(v.GetString("port"))
		if err != nil {
			return err
		}
		config.Port = port
	}
	overrideString(v, "allowed-origin", &config.AllowedOrigin)
	overrideString(v, "registry.downloads-endpoint", &config.Registry.DownloadsEndpoint)
	overrideString(v, "registry.registry-endpoint", &config.Registry.RegistryEndpoint)
	overrideString(v, "registry.scores-endpoint", &config.Registry.ScoresEndpoint)
	overrideString(v, "registry.request-timeout", &config.Registry.RequestTimeout)
	overrideString(v, "tracking.tick-interval", &config.Tracking.TickInterval)
	return nil
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		if value := v.GetString(key); value != "" {
			*dst = value
		}
	}
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", raw, err)
	}
	return port, nil
}

// GetRequestTimeout returns the parsed upstream request timeout
func (c *Config) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Registry.RequestTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultRequestTimeout)
	}
	return d
}

// GetTickInterval returns the parsed session tick interval
func (c *Config) GetTickInterval() time.Duration {
	d, err := time.ParseDuration(c.Tracking.TickInterval)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultTickInterval)
	}
	return d
}

// Address returns the listen address for Port
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.AllowedOrigin == "" {
		errs = append(errs, fmt.Errorf("allowedOrigin is required"))
	}
	if err := c.Registry.validate(); err != nil {
		errs = append(errs, err)
	}
	// Builds block the socket reader, which must see a pong within the pong wait
	if timeout, err := time.ParseDuration(c.Registry.RequestTimeout); err == nil && timeout >= gateway.DefaultPongWait {
		errs = append(errs, fmt.Errorf("registry.requestTimeout must be below %s, got %s",
			gateway.DefaultPongWait, c.Registry.RequestTimeout))
	}
	if err := validateDuration("tracking.tickInterval", c.Tracking.TickInterval); err != nil {
		errs = append(errs, err)
	}
	if _, err := filtering.NewNameFilter(c.Tracking.Include, c.Tracking.Exclude); err != nil {
		errs = append(errs, fmt.Errorf("tracking: %w", err))
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (r *RegistryConfig) validate() error {
	var errs []error
	for name, endpoint := range map[string]string{
		"registry.downloadsEndpoint": r.DownloadsEndpoint,
		"registry.registryEndpoint":  r.RegistryEndpoint,
		"registry.scoresEndpoint":    r.ScoresEndpoint,
	} {
		if err := validateEndpoint(name, endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := time.Parse(registry.DateLayout, r.HistoryStart); err != nil {
		errs = append(errs, fmt.Errorf("registry.historyStart must be a YYYY-MM-DD date: %w", err))
	}
	if err := validateDuration("registry.requestTimeout", r.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateEndpoint(name, endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", name, endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host, got %q", name, endpoint)
	}
	return nil
}

func validateDuration(name, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a duration: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}

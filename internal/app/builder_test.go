package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/pkgpulse/internal/config"
	"github.com/stacklok/pkgpulse/internal/registry/mocks"
	"github.com/stacklok/pkgpulse/internal/session"
	"github.com/stacklok/pkgpulse/internal/telemetry"
)

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig()
	require.NoError(t, err)
	require.NotNil(t, built.config)
	assert.Equal(t, ":5000", built.address)
	assert.Equal(t, defaultReadTimeout, built.readTimeout)
	assert.Equal(t, defaultIdleTimeout, built.idleTimeout)
}

func TestBaseConfig_AddressFollowsPort(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Port = 8181

	built, err := baseConfig(WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, ":8181", built.address)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":9090"},
		{name: "loopback", addr: "127.0.0.1:0"},
		{name: "localhost", addr: "localhost:5000"},
		{name: "empty", addr: "", wantErr: true},
		{name: "missing port", addr: ":", wantErr: true},
		{name: "no colon", addr: "5000", wantErr: true},
		{name: "port out of range", addr: ":70000", wantErr: true},
		{name: "hostname", addr: "example.com:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := baseConfig(WithAddress(tt.addr))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, built)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, built.address)
		})
	}
}

func TestWithMiddlewares(t *testing.T) {
	t.Parallel()

	mw := func(next http.Handler) http.Handler { return next }
	built, err := baseConfig(WithMiddlewares(mw, mw))
	require.NoError(t, err)
	assert.Len(t, built.middlewares, 2)
}

func TestNewApp_WiresComponents(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	cfg := config.Default()
	cfg.Tracking.TickInterval = "250ms"
	client := mocks.NewMockClient(ctrl)

	app, err := NewApp(context.Background(),
		WithConfig(cfg),
		WithAddress("127.0.0.1:0"),
		WithRegistryClient(client),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	components := app.components
	require.NotNil(t, components.Telemetry)
	assert.Same(t, client, components.Registry)
	assert.NotNil(t, components.Builder)
	assert.NotNil(t, components.Cache)
	assert.NotNil(t, components.Sessions)
	assert.NotNil(t, components.Gateway)

	assert.Same(t, cfg, app.config)
	assert.Equal(t, "127.0.0.1:0", app.httpServer.Addr)
	assert.Zero(t, app.httpServer.WriteTimeout)
	assert.True(t, app.ownsTelemetry)
}

func TestNewApp_BuildsRegistryClientFromConfig(t *testing.T) {
	t.Parallel()

	app, err := NewApp(context.Background(), WithAddress("127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	assert.NotNil(t, app.components.Registry)
}

func TestNewApp_InvalidTelemetry(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Telemetry = &telemetry.Config{
		Enabled: true,
		Metrics: &telemetry.MetricsConfig{Enabled: true, Exporter: "statsd"},
	}

	_, err := NewApp(context.Background(), WithConfig(cfg), WithAddress("127.0.0.1:0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize telemetry")
}

func TestNewApp_InvalidAddress(t *testing.T) {
	t.Parallel()

	_, err := NewApp(context.Background(), WithAddress(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build base configuration")
}

func TestNewApp_InvalidNamePattern(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Tracking.Include = []string{"[a-"}

	_, err := NewApp(context.Background(), WithConfig(cfg), WithAddress("127.0.0.1:0"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create name filter")
}

type discardEmitter struct{}

func (discardEmitter) Emit(string, any) error { return nil }

func TestNewApp_SessionsHonourNameFilter(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	cfg := config.Default()
	cfg.Tracking.Exclude = []string{"@internal/*"}

	// No expectations: filtered names never reach the registry
	app, err := NewApp(context.Background(),
		WithConfig(cfg),
		WithAddress("127.0.0.1:0"),
		WithRegistryClient(mocks.NewMockClient(ctrl)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	sessions := app.components.Sessions
	s := sessions.Open(discardEmitter{})
	t.Cleanup(func() { sessions.Close(s) })

	err = s.Track(context.Background(), "@internal/secrets")
	require.ErrorIs(t, err, session.ErrRejected)
	assert.Equal(t, session.StateIdle, s.State())
}

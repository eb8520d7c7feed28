// Package app provides application lifecycle management for the pkgpulse server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/stacklok/pkgpulse/internal/config"
)

// ErrNotServing is reported by CheckReadiness before Start and after Stop
var ErrNotServing = errors.New("not serving")

// App encapsulates all components needed to run the pkgpulse server.
// It provides lifecycle management and graceful shutdown capabilities.
type App struct {
	config        *config.Config
	components    *Components
	httpServer    *http.Server
	ownsTelemetry bool

	mu       sync.Mutex
	listener net.Listener
	serving  bool
	stopped  bool
	stopOnce sync.Once
	stopErr  error
}

// Start listens on the configured address and serves until Stop.
// It blocks until the HTTP server stops or encounters an error.
func (app *App) Start() error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	if app.stopped {
		app.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	app.listener = ln
	app.serving = true
	app.mu.Unlock()

	slog.Info("Server listening",
		"address", ln.Addr().String(),
		"allowed_origin", app.config.AllowedOrigin,
		"tick_interval", app.config.GetTickInterval(),
	)
	if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop refuses new connections, closes the open sockets, stops every
// session and shuts the HTTP server and telemetry down within timeout.
// Calling Stop more than once returns the first result.
func (app *App) Stop(timeout time.Duration) error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop(timeout)
	})
	return app.stopErr
}

func (app *App) stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	app.mu.Lock()
	app.serving = false
	app.stopped = true
	app.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	// Hijacked connections are not tracked by http.Server.Shutdown
	if err := app.components.Gateway.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close sockets: %w", err))
	}
	app.components.Sessions.StopAll()

	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if app.ownsTelemetry && app.components.Telemetry != nil {
		if err := app.components.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown telemetry: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	slog.Info("Server shutdown complete")
	return nil
}

// CheckReadiness reports whether the server accepts connections
func (app *App) CheckReadiness(_ context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if !app.serving {
		return ErrNotServing
	}
	return nil
}

// ActiveSessions returns the number of open tracking sessions
func (app *App) ActiveSessions() int {
	return app.components.Sessions.Len()
}

// Addr returns the bound address once Start is listening, nil before
func (app *App) Addr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener == nil {
		return nil
	}
	return app.listener.Addr()
}


// Package gateway exposes the tracking protocol over WebSocket. Messages are
// JSON frames carrying a named event and its data.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultAllowedOrigin is the dashboard development server
	DefaultAllowedOrigin = "http://localhost:5173"

	// AnyOrigin disables the origin check
	AnyOrigin = "*"

	// DefaultPingInterval is the period between two pings
	DefaultPingInterval = 30 * time.Second

	// DefaultPongWait is how long a connection may stay silent
	DefaultPongWait = 60 * time.Second

	// DefaultWriteWait bounds every write
	DefaultWriteWait = 10 * time.Second

	// maxMessageSize bounds inbound frames; package names are short
	maxMessageSize = 4096
)

// Handler reacts to the lifecycle of one connection. The gateway calls its
// methods from the connection's reader goroutine, one at a time.
type Handler interface {
	OnConnect(ctx context.Context, conn *Conn)
	OnMessage(ctx context.Context, event string, data json.RawMessage)
	OnDisconnect(ctx context.Context)
}

// HandlerFactory creates the handler of a new connection
type HandlerFactory func() Handler

// Gateway upgrades HTTP requests and runs one reader loop per connection
type Gateway struct {
	newHandler    HandlerFactory
	allowedOrigin string
	pingInterval  time.Duration
	pongWait      time.Duration
	writeWait     time.Duration
	upgrader      websocket.Upgrader

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// Option configures a Gateway
type Option func(*Gateway)

// WithAllowedOrigin sets the origin allowed to connect; "*" allows any
func WithAllowedOrigin(origin string) Option {
	return func(g *Gateway) {
		g.allowedOrigin = origin
	}
}

// WithKeepalive sets the ping period and the read deadline refreshed by pongs
func WithKeepalive(pingInterval, pongWait time.Duration) Option {
	return func(g *Gateway) {
		g.pingInterval = pingInterval
		g.pongWait = pongWait
	}
}

// WithWriteWait bounds every write
func WithWriteWait(d time.Duration) Option {
	return func(g *Gateway) {
		g.writeWait = d
	}
}

// New creates a Gateway that hands each connection to a fresh handler
func New(newHandler HandlerFactory, opts ...Option) *Gateway {
	g := &Gateway{
		newHandler:    newHandler,
		allowedOrigin: DefaultAllowedOrigin,
		pingInterval:  DefaultPingInterval,
		pongWait:      DefaultPongWait,
		writeWait:     DefaultWriteWait,
		conns:         make(map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// checkOrigin allows the configured origin. Requests without an Origin
// header come from non-browser clients and are allowed.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || g.allowedOrigin == AnyOrigin {
		return true
	}
	return strings.EqualFold(strings.TrimSuffix(origin, "/"), strings.TrimSuffix(g.allowedOrigin, "/"))
}

// ServeHTTP upgrades the request and blocks until the connection ends
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error
		slog.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	conn := newConn(ws, r.RemoteAddr, g.writeWait)
	if !g.track(conn) {
		conn.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer g.untrack(conn)

	g.serve(r.Context(), conn)
}

func (g *Gateway) serve(ctx context.Context, conn *Conn) {
	// Cancelled when the read loop ends, not with the hijacked request
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	handler := g.newHandler()
	handler.OnConnect(ctx, conn)

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(g.pongWait))
	// Pongs are handled on this goroutine, which also runs Track, so a
	// snapshot build must return within pongWait.
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(g.pongWait))
	})

	pingDone := make(chan struct{})
	go g.keepalive(ctx, conn, pingDone)

	for {
		// Only transport errors end the loop; undecodable frames are skipped
		_, r, err := conn.ws.NextReader()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("Connection read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			break
		}

		var frame Frame
		if err := json.NewDecoder(r).Decode(&frame); err != nil {
			slog.Debug("Ignoring malformed frame", "remote", conn.RemoteAddr(), "error", err)
			continue
		}
		if frame.Event == "" {
			slog.Debug("Ignoring frame without event", "remote", conn.RemoteAddr())
			continue
		}
		handler.OnMessage(ctx, frame.Event, frame.Data)
	}

	cancel()
	<-pingDone
	handler.OnDisconnect(ctx)
	conn.close(websocket.CloseNormalClosure, "")
}

func (g *Gateway) keepalive(ctx context.Context, conn *Conn, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				slog.Debug("Ping failed", "remote", conn.RemoteAddr(), "error", err)
				return
			}
		}
	}
}

// track registers conn unless Shutdown has started
func (g *Gateway) track(conn *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closing {
		return false
	}
	g.conns[conn] = struct{}{}
	return true
}

func (g *Gateway) untrack(conn *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, conn)
}

// Len returns the number of open connections
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown refuses new connections, closes the open ones and waits for
// their handlers to finish or ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	open := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		open = append(open, c)
	}
	g.mu.Unlock()

	for _, c := range open {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

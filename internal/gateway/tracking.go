package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/stacklok/pkgpulse/internal/session"
)

// EventTrackPackage asks the server to start streaming a package. Its data
// is the package name as a JSON string.
const EventTrackPackage = "trackPackage"

// trackingHandler binds one connection to one tracking session
type trackingHandler struct {
	manager *session.Manager
	session *session.Session
}

// NewTrackingHandler returns a factory of handlers that open a session per
// connection and close it on disconnect.
func NewTrackingHandler(manager *session.Manager) HandlerFactory {
	return func() Handler {
		return &trackingHandler{manager: manager}
	}
}

func (h *trackingHandler) OnConnect(_ context.Context, conn *Conn) {
	h.session = h.manager.Open(conn)
	slog.Info("Client connected", "session", h.session.ID(), "remote", conn.RemoteAddr())
}

func (h *trackingHandler) OnMessage(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case EventTrackPackage:
		h.track(ctx, data)
	default:
		slog.Debug("Ignoring unknown event", "session", h.session.ID(), "event", event)
	}
}

func (h *trackingHandler) track(ctx context.Context, data json.RawMessage) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		slog.Warn("Ignoring track request with invalid package name",
			"session", h.session.ID(), "data", string(data), "error", err)
		return
	}

	slog.Info("Track requested", "session", h.session.ID(), "package", name)

	// Failures are logged only; the client simply receives no updates
	err := h.session.Track(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrAlreadyTracking):
		slog.Info("Ignoring track request, session already tracks a package",
			"session", h.session.ID(), "package", h.session.Package(), "requested", name)
	case errors.Is(err, session.ErrRejected):
		slog.Info("Rejected track request", "session", h.session.ID(), "package", name, "error", err)
	case errors.Is(err, session.ErrEmptyName), errors.Is(err, session.ErrStopped):
		slog.Debug("Ignoring track request", "session", h.session.ID(), "error", err)
	default:
		slog.Error("Failed to start tracking", "session", h.session.ID(), "package", name, "error", err)
	}
}

func (h *trackingHandler) OnDisconnect(_ context.Context) {
	if h.session == nil {
		return
	}
	pkg := h.session.Package()
	h.manager.Close(h.session)
	slog.Info("Client disconnected", "session", h.session.ID(), "package", pkg)
}

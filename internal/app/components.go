package app

import (
	"github.com/stacklok/pkgpulse/internal/gateway"
	"github.com/stacklok/pkgpulse/internal/registry"
	"github.com/stacklok/pkgpulse/internal/session"
	"github.com/stacklok/pkgpulse/internal/snapshot"
	"github.com/stacklok/pkgpulse/internal/telemetry"
)

// Components groups all application components
type Components struct {
	// Telemetry provides the tracer and meter providers
	Telemetry *telemetry.Telemetry

	// Registry performs the upstream lookups
	Registry registry.Client

	// Builder assembles snapshots from the lookups
	Builder *snapshot.Builder

	// Cache holds one snapshot per tracked package
	Cache *snapshot.Cache

	// Sessions holds the live tracking sessions
	Sessions *session.Manager

	// Gateway serves the WebSocket protocol
	Gateway *gateway.Gateway
}

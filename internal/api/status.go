package api

import "context"

//go:generate mockgen -destination=mocks/mock_status.go -package=mocks -source=status.go Status

// Status reports whether the server can take connections and how many
// tracking sessions are live.
type Status interface {
	CheckReadiness(ctx context.Context) error
	ActiveSessions() int
}

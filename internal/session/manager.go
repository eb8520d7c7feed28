package session

import (
	"log/slog"
	"sync"
)

// Manager creates sessions with shared options and keeps the live ones so
// they can all be stopped on shutdown.
type Manager struct {
	resolver Resolver
	opts     []Option

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a Manager whose sessions resolve snapshots through resolver
func NewManager(resolver Resolver, opts ...Option) *Manager {
	return &Manager{
		resolver: resolver,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open creates and registers an idle session emitting to emitter
func (m *Manager) Open(emitter Emitter) *Session {
	s := New(emitter, m.resolver, m.opts...)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	return s
}

// Close stops the session and forgets it
func (m *Manager) Close(s *Session) {
	s.Stop()

	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()
}

// Len returns the number of open sessions
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StopAll stops every open session and waits for their loops to exit
func (m *Manager) StopAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	if len(open) > 0 {
		slog.Info("Stopping open sessions", "count", len(open))
	}

	var wg sync.WaitGroup
	for _, s := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Close(s)
		}()
	}
	wg.Wait()
}

// Package session runs the per-connection tracking loop. A session tracks
// at most one package and emits an extrapolated update on every tick until
// it is stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/pkgpulse/internal/otel"
	"github.com/stacklok/pkgpulse/internal/snapshot"
	"github.com/stacklok/pkgpulse/internal/telemetry"
	"github.com/stacklok/pkgpulse/internal/validators"
)

// EventPackageUpdate is the event carrying a snapshot projection
const EventPackageUpdate = "packageUpdate"

// DefaultTickInterval is the period between two updates
const DefaultTickInterval = time.Second

var (
	// ErrEmptyName is returned when the requested package name is blank
	ErrEmptyName = errors.New("package name is empty")

	// ErrAlreadyTracking is returned when the session already tracks a package
	ErrAlreadyTracking = errors.New("session is already tracking a package")

	// ErrStopped is returned when the session has been stopped
	ErrStopped = errors.New("session is stopped")

	// ErrRejected is returned for names that are invalid or filtered out
	ErrRejected = errors.New("package name rejected")
)

// State is the lifecycle state of a session
type State int

// Session states. Idle moves to Tracking or Stopped, Tracking moves to Stopped.
const (
	StateIdle State = iota
	StateTracking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Emitter delivers a named event to the connected client
type Emitter interface {
	Emit(event string, payload any) error
}

// Resolver returns the shared snapshot of a package
type Resolver interface {
	GetOrCreate(ctx context.Context, name string) (*snapshot.PackageSnapshot, error)
}

// Ticker abstracts time.Ticker for tests
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type timeTicker struct {
	*time.Ticker
}

func (t timeTicker) Chan() <-chan time.Time {
	return t.C
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{time.NewTicker(d)}
}

// Session is the tracking state of one connection
type Session struct {
	id       string
	emitter  Emitter
	resolver Resolver

	interval  time.Duration
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	metrics   *telemetry.SessionMetrics
	tracer    trace.Tracer
	nameCheck func(name string) error

	mu        sync.Mutex
	state     State
	resolving bool
	pkg       string
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an idle session
func New(emitter Emitter, resolver Resolver, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		emitter:   emitter,
		resolver:  resolver,
		interval:  DefaultTickInterval,
		now:       time.Now,
		newTicker: newTimeTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Package returns the tracked package name, empty while idle
func (s *Session) Package() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pkg
}

// Track resolves the snapshot of name and starts the tick loop. It is only
// valid on an idle session. When the snapshot cannot be resolved the
// session stays idle and nothing is emitted.
func (s *Session) Track(ctx context.Context, name string) (err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}
	if _, err := validators.ValidatePackageName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	if s.nameCheck != nil {
		if err := s.nameCheck(name); err != nil {
			return fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}

	s.mu.Lock()
	switch {
	case s.state == StateStopped:
		s.mu.Unlock()
		return ErrStopped
	case s.state == StateTracking || s.resolving:
		s.mu.Unlock()
		return ErrAlreadyTracking
	}
	s.resolving = true
	s.mu.Unlock()

	ctx, span := otel.StartSpan(ctx, s.tracer, "session.track",
		trace.WithAttributes(
			otel.AttrSessionID.String(s.id),
			otel.AttrPackageName.String(name),
		))
	defer func() { otel.End(span, err) }()

	snap, err := s.resolver.GetOrCreate(ctx, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolving = false

	if err != nil {
		return err
	}
	if s.state == StateStopped {
		return ErrStopped
	}

	// The loop lives as long as the session, not the triggering request
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.state = StateTracking
	s.pkg = name
	s.cancel = cancel
	s.done = make(chan struct{})

	s.metrics.SessionStarted(ctx)
	slog.Info("Tracking package", "session", s.id, "package", name, "interval", s.interval)

	go s.run(loopCtx, snap, s.newTicker(s.interval), s.done)
	return nil
}

// run advances the snapshot and emits an update on every tick
func (s *Session) run(ctx context.Context, snap *snapshot.PackageSnapshot, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			// Both cases may be ready at once; cancellation wins
			if ctx.Err() != nil {
				return
			}
			update := snap.Advance(s.now())
			err := s.emitter.Emit(EventPackageUpdate, update)
			if err != nil {
				slog.Debug("Failed to emit update", "session", s.id, "package", snap.Name(), "error", err)
			}
			s.metrics.RecordTick(ctx, snap.Name(), err == nil)
		}
	}
}

// Stop cancels the tick loop and waits for it to exit, so no update is
// emitted once Stop returns. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}

	wasTracking := s.state == StateTracking
	s.state = StateStopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if !wasTracking {
		return
	}

	cancel()
	<-done
	s.metrics.SessionStopped(context.Background())
	slog.Debug("Session stopped", "session", s.id, "package", s.Package())
}

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/pkgpulse/internal/registry"
	"github.com/stacklok/pkgpulse/internal/snapshot"
)

var start = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type recordingEmitter struct {
	mu      sync.Mutex
	events  []string
	updates []snapshot.Projection
	err     error
	emitted chan struct{}
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{emitted: make(chan struct{}, 100)}
}

func (e *recordingEmitter) Emit(event string, payload any) error {
	e.mu.Lock()
	e.events = append(e.events, event)
	if p, ok := payload.(snapshot.Projection); ok {
		e.updates = append(e.updates, p)
	}
	err := e.err
	e.mu.Unlock()
	select {
	case e.emitted <- struct{}{}:
	default:
	}
	return err
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func (e *recordingEmitter) last() snapshot.Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updates[len(e.updates)-1]
}

func (e *recordingEmitter) waitEmit(t *testing.T) {
	t.Helper()
	select {
	case <-e.emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an update")
	}
}

type stubResolver struct {
	calls atomic.Int32
	snap  *snapshot.PackageSnapshot
	err   error
}

func (r *stubResolver) GetOrCreate(_ context.Context, _ string) (*snapshot.PackageSnapshot, error) {
	r.calls.Add(1)
	return r.snap, r.err
}

// manualTicker fires only when the test says so
type manualTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time)}
}

func (m *manualTicker) Chan() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	m.stopped.Store(true)
}

// manualClock is advanced by the test between ticks
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func leftPad(weekly *int64) *snapshot.PackageSnapshot {
	return snapshot.New("left-pad", snapshot.Sources{
		Daily:  1000,
		Weekly: weekly,
		Scores: &registry.Scores{Popularity: 0.4},
	}, start)
}

func TestSession_TrackEmitsOnEveryTick(t *testing.T) {
	t.Parallel()

	emitter := newRecordingEmitter()
	resolver := &stubResolver{snap: leftPad(nil)}
	ticker := newManualTicker()
	clock := &manualClock{now: start}

	s := New(emitter, resolver,
		WithClock(clock.Now),
		WithTicker(func(time.Duration) Ticker { return ticker }),
	)
	require.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Track(context.Background(), "left-pad"))
	assert.Equal(t, StateTracking, s.State())
	assert.Equal(t, "left-pad", s.Package())

	clock.Set(start.Add(time.Second))
	ticker.c <- clock.Now()
	emitter.waitEmit(t)
	assert.Equal(t, int64(1000), emitter.last().EstimatedDownloads)

	clock.Set(start.Add(100 * time.Second))
	ticker.c <- clock.Now()
	emitter.waitEmit(t)
	update := emitter.last()
	assert.Equal(t, int64(1001), update.EstimatedDownloads)
	assert.Equal(t, "left-pad", update.Package)
	assert.Nil(t, update.WeeklyDownloads)

	s.Stop()
	assert.Equal(t, StateStopped, s.State())
	assert.True(t, ticker.stopped.Load())
	assert.Equal(t, []string{EventPackageUpdate, EventPackageUpdate}, emitter.events)
}

func TestSession_NoEmissionsAfterStop(t *testing.T) {
	t.Parallel()

	const interval = 10 * time.Millisecond
	emitter := newRecordingEmitter()
	s := New(emitter, &stubResolver{snap: leftPad(nil)}, WithInterval(interval))

	require.NoError(t, s.Track(context.Background(), "left-pad"))
	emitter.waitEmit(t)
	emitter.waitEmit(t)

	s.Stop()
	stoppedAt := emitter.count()

	time.Sleep(5 * interval)
	assert.Equal(t, stoppedAt, emitter.count())
}

func TestSession_FailedResolveIsSilent(t *testing.T) {
	t.Parallel()

	const interval = 10 * time.Millisecond
	emitter := newRecordingEmitter()
	resolver := &stubResolver{err: snapshot.ErrInsufficientData}
	s := New(emitter, resolver, WithInterval(interval))

	err := s.Track(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, snapshot.ErrInsufficientData)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.Package())

	time.Sleep(5 * interval)
	assert.Zero(t, emitter.count())
	s.Stop()
}

func TestSession_TrackRules(t *testing.T) {
	t.Parallel()

	t.Run("empty name is rejected", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{snap: leftPad(nil)}
		s := New(newRecordingEmitter(), resolver)
		assert.ErrorIs(t, s.Track(context.Background(), "  "), ErrEmptyName)
		assert.Zero(t, resolver.calls.Load())
		assert.Equal(t, StateIdle, s.State())
	})

	t.Run("second track is ignored", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{snap: leftPad(nil)}
		s := New(newRecordingEmitter(), resolver, WithInterval(time.Hour))
		require.NoError(t, s.Track(context.Background(), "left-pad"))

		assert.ErrorIs(t, s.Track(context.Background(), "react"), ErrAlreadyTracking)
		assert.Equal(t, "left-pad", s.Package())
		assert.Equal(t, int32(1), resolver.calls.Load())
		s.Stop()
	})

	t.Run("invalid name is rejected", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{snap: leftPad(nil)}
		s := New(newRecordingEmitter(), resolver)
		assert.ErrorIs(t, s.Track(context.Background(), "../../-/user"), ErrRejected)
		assert.Zero(t, resolver.calls.Load())
		assert.Equal(t, StateIdle, s.State())
	})

	t.Run("name check rejects", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{snap: leftPad(nil)}
		s := New(newRecordingEmitter(), resolver, WithNameCheck(func(name string) error {
			if name == "left-pad" {
				return errors.New("excluded")
			}
			return nil
		}))
		err := s.Track(context.Background(), "left-pad")
		require.ErrorIs(t, err, ErrRejected)
		assert.ErrorContains(t, err, "excluded")
		assert.Zero(t, resolver.calls.Load())
		assert.Equal(t, StateIdle, s.State())
	})

	t.Run("track after stop is ignored", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{snap: leftPad(nil)}
		s := New(newRecordingEmitter(), resolver)
		s.Stop()

		assert.ErrorIs(t, s.Track(context.Background(), "left-pad"), ErrStopped)
		assert.Zero(t, resolver.calls.Load())
	})

	t.Run("retry after a failed resolve", func(t *testing.T) {
		t.Parallel()

		resolver := &stubResolver{err: errors.New("registry down")}
		s := New(newRecordingEmitter(), resolver, WithInterval(time.Hour))
		require.Error(t, s.Track(context.Background(), "left-pad"))

		resolver.err = nil
		resolver.snap = leftPad(nil)
		require.NoError(t, s.Track(context.Background(), "left-pad"))
		assert.Equal(t, StateTracking, s.State())
		s.Stop()
	})
}

func TestSession_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New(newRecordingEmitter(), &stubResolver{snap: leftPad(nil)}, WithInterval(time.Hour))
	require.NoError(t, s.Track(context.Background(), "left-pad"))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
	s.Stop()
	assert.Equal(t, StateStopped, s.State())
}

func TestSession_StopDuringResolve(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	resolver := resolverFunc(func(context.Context, string) (*snapshot.PackageSnapshot, error) {
		close(entered)
		<-release
		return leftPad(nil), nil
	})
	emitter := newRecordingEmitter()
	s := New(emitter, resolver, WithInterval(5*time.Millisecond))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Track(context.Background(), "left-pad") }()

	<-entered
	s.Stop()
	close(release)

	assert.ErrorIs(t, <-errCh, ErrStopped)
	time.Sleep(25 * time.Millisecond)
	assert.Zero(t, emitter.count())
}

func TestSession_EmitFailureKeepsTicking(t *testing.T) {
	t.Parallel()

	emitter := newRecordingEmitter()
	emitter.err = errors.New("connection closed")
	weekly := int64(7000)
	s := New(emitter, &stubResolver{snap: leftPad(&weekly)}, WithInterval(5*time.Millisecond))

	require.NoError(t, s.Track(context.Background(), "left-pad"))
	emitter.waitEmit(t)
	emitter.waitEmit(t)
	emitter.waitEmit(t)
	s.Stop()

	require.NotNil(t, emitter.last().WeeklyDownloads)
	assert.GreaterOrEqual(t, *emitter.last().WeeklyDownloads, int64(7000))
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "tracking", StateTracking.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "State(7)", State(7).String())
}

type resolverFunc func(ctx context.Context, name string) (*snapshot.PackageSnapshot, error)

func (f resolverFunc) GetOrCreate(ctx context.Context, name string) (*snapshot.PackageSnapshot, error) {
	return f(ctx, name)
}

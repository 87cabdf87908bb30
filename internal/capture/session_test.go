// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStream struct {
	chunks   chan []byte
	errs     chan error
	final     []byte
	onRelease func()
	once      sync.Once
	released  chan struct{}
}

func newFakeStream(final []byte, onRelease func()) *fakeStream {
	return &fakeStream{
		chunks:    make(chan []byte, 16),
		errs:      make(chan error, 1),
		final:     final,
		onRelease: onRelease,
		released:  make(chan struct{}),
	}
}

func (f *fakeStream) Chunks() <-chan []byte { return f.chunks }
func (f *fakeStream) Errors() <-chan error  { return f.errs }

func (f *fakeStream) Release() error {
	f.once.Do(func() {
		if f.onRelease != nil {
			f.onRelease()
		}
		if f.final != nil {
			f.chunks <- f.final
		}
		close(f.chunks)
		close(f.released)
	})
	return nil
}

func (f *fakeStream) isReleased() bool {
	select {
	case <-f.released:
		return true
	default:
		return false
	}
}

type fakeDevice struct {
	mu          sync.Mutex
	err         error
	streams     []*fakeStream
	final       []byte
	constraints []Constraints
	onRelease   func()

	// when set, Acquire signals acquiring and waits for proceed
	acquiring chan struct{}
	proceed   chan struct{}
}

func (d *fakeDevice) Name() string { return "fake" }

func (d *fakeDevice) Acquire(_ context.Context, c Constraints, _ time.Duration) (Stream, error) {
	if d.proceed != nil {
		close(d.acquiring)
		<-d.proceed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constraints = append(d.constraints, c)
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream(d.final, d.onRelease)
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streams[len(d.streams)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Insert(context.Context, model.Record) error { return f.err }

func newTestSession(t *testing.T, dev Device, st store.Store) (*Session, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 14, 9, 26, 0, 0, time.UTC)}
	return NewSession(dev, st, model.NewIDSource(0), Options{Clock: clock.Now}), clock
}

func TestSession_RecordsFiveSeconds(t *testing.T) {
	dev := &fakeDevice{final: []byte("tail")}
	st := store.NewMemoryStore()
	s, clock := newTestSession(t, dev, st)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StateCapturing, s.State())
	assert.Equal(t, DefaultConstraints(), dev.constraints[0])

	dev.last().chunks <- []byte("head-")
	dev.last().chunks <- []byte("body-")
	clock.Advance(5 * time.Second)
	assert.Equal(t, 5*time.Second, s.Elapsed())

	rec, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 5, rec.DurationSeconds)
	assert.Equal(t, []byte("head-body-tail"), rec.Payload)
	assert.Equal(t, int64(len("head-body-tail")), rec.SizeBytes)
	assert.False(t, rec.Uploaded)
	assert.Equal(t, "recording_20250314T0926.webm", rec.Filename)
	assert.True(t, dev.last().isReleased())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, StateIdle, s.LastOutcome())

	stored, err := st.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Payload, stored.Payload)
}

func TestSession_DurationFloors(t *testing.T) {
	dev := &fakeDevice{}
	s, clock := newTestSession(t, dev, store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	clock.Advance(4999 * time.Millisecond)
	rec, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.DurationSeconds)
}

func TestSession_StartWhileCapturing(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, store.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyCapturing)

	_, err := s.Stop(ctx)
	require.NoError(t, err)
}

func TestSession_DeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{err: errors.New("permission denied")}
	s, _ := newTestSession(t, dev, store.NewMemoryStore())

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, s.State())
	assert.ErrorIs(t, s.Probe(context.Background()), ErrDeviceUnavailable)
}

func TestSession_StopWhenIdleIsNoop(t *testing.T) {
	s, _ := newTestSession(t, &fakeDevice{}, store.NewMemoryStore())
	rec, err := s.Stop(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSession_PersistenceFailureReleasesDevice(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, failingStore{Store: store.NewMemoryStore(), err: errors.New("disk full")})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	rec, err := s.Stop(ctx)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Nil(t, rec)
	assert.True(t, dev.last().isReleased())
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, StateFailed, s.LastOutcome())

	// reusable after failure
	require.NoError(t, s.Start(ctx))
	_, _ = s.Stop(ctx)
}

func TestSession_MidCaptureFailureDiscardsData(t *testing.T) {
	dev := &fakeDevice{}
	st := store.NewMemoryStore()
	s, _ := newTestSession(t, dev, st)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	stream := dev.last()
	stream.chunks <- []byte("partial")
	stream.errs <- errors.New("device disconnected")

	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, ErrCaptureFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("failure not notified")
	}
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, StateFailed, s.LastOutcome())
	assert.True(t, stream.isReleased())

	rec, err := s.Stop(ctx)
	assert.ErrorIs(t, err, ErrCaptureFailed)
	assert.Nil(t, rec)

	all, err := st.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	rec, err = s.Stop(ctx)
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSession_IDsIncrease(t *testing.T) {
	dev := &fakeDevice{}
	s, _ := newTestSession(t, dev, store.NewMemoryStore())
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Start(ctx))
		rec, err := s.Stop(ctx)
		require.NoError(t, err)
		assert.Greater(t, rec.ID, last)
		last = rec.ID
	}
}

func TestSession_DurationExcludesReleaseTime(t *testing.T) {
	dev := &fakeDevice{}
	s, clock := newTestSession(t, dev, store.NewMemoryStore())
	// ffmpeg may take seconds to exit after the stop signal
	dev.onRelease = func() { clock.Advance(3 * time.Second) }
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	clock.Advance(5 * time.Second)
	rec, err := s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.DurationSeconds)
	assert.Equal(t, "recording_20250314T0926.webm", rec.Filename)
}

func TestSession_StopSurvivesCancelledContext(t *testing.T) {
	dev := &fakeDevice{final: []byte("tail")}
	st := store.NewMemoryStore()
	s, clock := newTestSession(t, dev, st)

	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(reqCtx))
	dev.last().chunks <- []byte("voice-")
	clock.Advance(2 * time.Second)
	cancel()

	rec, err := s.Stop(reqCtx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, []byte("voice-tail"), rec.Payload)
	assert.Equal(t, StateIdle, s.LastOutcome())

	all, err := st.GetAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSession_StateReadableDuringAcquire(t *testing.T) {
	dev := &fakeDevice{acquiring: make(chan struct{}), proceed: make(chan struct{})}
	s, _ := newTestSession(t, dev, store.NewMemoryStore())
	ctx := context.Background()

	started := make(chan error, 1)
	go func() { started <- s.Start(ctx) }()
	<-dev.acquiring

	read := make(chan State, 1)
	go func() { read <- s.State() }()
	select {
	case st := <-read:
		assert.Equal(t, StateIdle, st)
	case <-time.After(time.Second):
		t.Fatal("State blocked while the device was being acquired")
	}
	assert.Zero(t, s.Elapsed())
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyCapturing)

	close(dev.proceed)
	require.NoError(t, <-started)
	assert.Equal(t, StateCapturing, s.State())
	_, err := s.Stop(ctx)
	require.NoError(t, err)
}

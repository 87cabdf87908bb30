// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capture runs one recording at a time: it acquires a device,
// accumulates encoded chunks, and persists the finished recording before
// acknowledging it.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/metrics"
)

// State of a capture session.
type State string

const (
	StateIdle       State = "idle"
	StateCapturing  State = "capturing"
	StateFinalizing State = "finalizing"
	StateFailed     State = "failed"
)

// finalizeTimeout bounds the drain and the insert once Stop has begun.
const finalizeTimeout = 30 * time.Second

// Options tune a Session. Zero values pick the defaults.
type Options struct {
	Constraints   Constraints
	FlushInterval time.Duration
	Clock         func() time.Time
}

// Session owns the capture state machine:
// Idle -> Capturing -> Finalizing -> Idle, with Failed reported per attempt.
type Session struct {
	device Device
	store  store.Store
	ids    *model.IDSource
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	starting bool // Acquire in flight, state is still idle
	cur      *attempt
	pending  error // mid-capture failure not yet reported through Stop
	last     State // outcome of the last attempt: idle (ok) or failed
	errs     chan error
}

type attempt struct {
	stream Stream
	start  time.Time
	done   chan struct{}

	mu  sync.Mutex
	buf bytes.Buffer
	err error
}

// NewSession wires a session to a device, a store and the id source.
func NewSession(dev Device, st store.Store, ids *model.IDSource, opts Options) *Session {
	if opts.Constraints == (Constraints{}) {
		opts.Constraints = DefaultConstraints()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Session{
		device: dev,
		store:  st,
		ids:    ids,
		opts:   opts,
		logger: xglog.WithComponent("capture").With().Str(xglog.FieldDevice, dev.Name()).Logger(),
		state:  StateIdle,
		last:   StateIdle,
		errs:   make(chan error, 1),
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastOutcome is StateFailed if the previous attempt produced no record.
func (s *Session) LastOutcome() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Errors notifies mid-capture failures. A notification is dropped if the
// previous one was not read.
func (s *Session) Errors() <-chan error { return s.errs }

// Elapsed is the time since Start while capturing, zero otherwise.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCapturing || s.cur == nil {
		return 0
	}
	return s.opts.Clock().Sub(s.cur.start)
}

// Probe acquires and immediately releases the device.
func (s *Session) Probe(ctx context.Context) error {
	s.mu.Lock()
	busy := s.state != StateIdle || s.starting
	s.mu.Unlock()
	if busy {
		return nil
	}
	stream, err := s.device.Acquire(ctx, s.opts.Constraints, s.opts.FlushInterval)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if err := stream.Release(); err != nil {
		return err
	}
	chunks := stream.Chunks()
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Start acquires the device and begins accumulating chunks. The device is
// acquired without holding the session lock.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle || s.starting {
		s.mu.Unlock()
		return ErrAlreadyCapturing
	}
	s.starting = true
	s.pending = nil
	s.mu.Unlock()

	stream, err := s.device.Acquire(ctx, s.opts.Constraints, s.opts.FlushInterval)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		metrics.IncRecordingFailed("acquire")
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "capture.acquire_failed").Msg("capture device unavailable")
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	a := &attempt{
		stream: stream,
		start:  s.opts.Clock(),
		done:   make(chan struct{}),
	}
	s.cur = a
	s.state = StateCapturing
	go s.collect(a)

	s.logger.Info().
		Str(xglog.FieldEvent, "capture.started").
		Int("sample_rate", s.opts.Constraints.SampleRate).
		Msg("capture started")
	return nil
}

func (s *Session) collect(a *attempt) {
	defer close(a.done)
	chunks, errs := a.stream.Chunks(), a.stream.Errors()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				// a failure is reported before the stream closes
				select {
				case err := <-errs:
					if err != nil {
						s.fail(a, err)
					}
				default:
				}
				return
			}
			a.mu.Lock()
			a.buf.Write(chunk)
			a.mu.Unlock()
		case err := <-errs:
			if err == nil {
				errs = nil
				continue
			}
			s.fail(a, err)
			return
		}
	}
}

func (s *Session) fail(a *attempt, err error) {
	a.mu.Lock()
	a.err = err
	a.buf.Reset()
	a.mu.Unlock()
	s.abort(a, err)
}

// abort handles a device failure while Capturing. During Finalizing the
// failure is picked up by Stop instead.
func (s *Session) abort(a *attempt, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != a || s.state != StateCapturing {
		return
	}
	if err := a.stream.Release(); err != nil {
		s.logger.Debug().Err(err).Msg("release after failure")
	}
	s.cur = nil
	s.state = StateIdle
	s.last = StateFailed
	s.pending = fmt.Errorf("%w: %w", ErrCaptureFailed, cause)
	metrics.IncRecordingFailed("capture")
	s.logger.Error().Err(cause).Str(xglog.FieldEvent, "capture.failed").Msg("capture device failed, discarding data")

	select {
	case s.errs <- s.pending:
	default:
	}
}

// Stop finalizes the current capture and returns the persisted record.
// It is a no-op unless capturing, except that a pending mid-capture failure
// is returned once. Once capturing has stopped, cancelling ctx no longer
// discards the recording; finalization is bounded by finalizeTimeout.
func (s *Session) Stop(ctx context.Context) (*model.Record, error) {
	s.mu.Lock()
	if s.pending != nil {
		err := s.pending
		s.pending = nil
		s.mu.Unlock()
		return nil, err
	}
	if s.state != StateCapturing {
		s.mu.Unlock()
		return nil, nil
	}
	a := s.cur
	s.state = StateFinalizing
	stopAt := s.opts.Clock()
	s.mu.Unlock()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := a.stream.Release(); err != nil {
		s.logger.Debug().Err(err).Msg("device release reported error")
	}

	select {
	case <-a.done:
	case <-fctx.Done():
		s.finish(StateFailed)
		metrics.IncRecordingFailed("capture")
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, fctx.Err())
	}

	a.mu.Lock()
	failure := a.err
	payload := bytes.Clone(a.buf.Bytes())
	a.mu.Unlock()

	if failure != nil {
		s.finish(StateFailed)
		metrics.IncRecordingFailed("capture")
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, failure)
	}

	rec := model.New(s.ids.Next(stopAt), stopAt, payload, model.DurationSecondsBetween(a.start, stopAt))

	if err := s.store.Insert(fctx, rec); err != nil {
		s.finish(StateFailed)
		metrics.IncRecordingFailed("persist")
		s.logger.Error().Err(err).
			Str(xglog.FieldEvent, "capture.persist_failed").
			Int64(xglog.FieldRecordingID, rec.ID).
			Msg("failed to persist recording")
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.finish(StateIdle)
	metrics.RecordFinalized(rec.SizeBytes)
	s.logger.Info().
		Str(xglog.FieldEvent, "capture.finalized").
		Int64(xglog.FieldRecordingID, rec.ID).
		Str(xglog.FieldFilename, rec.Filename).
		Int(xglog.FieldDuration, rec.DurationSeconds).
		Int64(xglog.FieldSize, rec.SizeBytes).
		Msg("recording saved")
	return &rec, nil
}

func (s *Session) finish(outcome State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = nil
	s.state = StateIdle
	s.last = outcome
}

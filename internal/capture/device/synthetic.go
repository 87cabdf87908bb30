// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/ManuGH/voxsync/internal/capture"
)

// ErrSyntheticUnavailable is returned when a synthetic device is configured as missing.
var ErrSyntheticUnavailable = errors.New("synthetic device unavailable")

// SyntheticOptions control the generated signal and injected faults.
type SyntheticOptions struct {
	ToneHz      float64 // default 440
	Unavailable bool
	// FailAfter reports a device error after this many flushed chunks. Zero never fails.
	FailAfter int
}

// Synthetic generates a deterministic 16-bit PCM sine tone. It needs no
// hardware and is used for demos and tests.
type Synthetic struct {
	opts SyntheticOptions
}

func NewSynthetic(opts SyntheticOptions) *Synthetic {
	if opts.ToneHz <= 0 {
		opts.ToneHz = 440
	}
	return &Synthetic{opts: opts}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Acquire(_ context.Context, c capture.Constraints, flush time.Duration) (capture.Stream, error) {
	if s.opts.Unavailable {
		return nil, ErrSyntheticUnavailable
	}
	if c.SampleRate <= 0 {
		c.SampleRate = capture.DefaultSampleRate
	}
	st := &toneStream{
		rate:      c.SampleRate,
		hz:        s.opts.ToneHz,
		failAfter: s.opts.FailAfter,
		chunks:    make(chan []byte, 4),
		errs:      make(chan error, 1),
		stop:      make(chan struct{}),
		started:   time.Now(),
	}
	go st.run(flush)
	return st, nil
}

type toneStream struct {
	rate      int
	hz        float64
	failAfter int

	chunks chan []byte
	errs   chan error
	stop   chan struct{}
	once   sync.Once

	started time.Time
	sample  int
}

func (t *toneStream) Chunks() <-chan []byte { return t.chunks }
func (t *toneStream) Errors() <-chan error  { return t.errs }

func (t *toneStream) Release() error {
	t.once.Do(func() { close(t.stop) })
	return nil
}

func (t *toneStream) run(flush time.Duration) {
	defer close(t.chunks)
	ticker := time.NewTicker(flush)
	defer ticker.Stop()

	emitted := 0
	last := t.started
	for {
		select {
		case <-t.stop:
			if tail := t.generate(time.Since(last)); len(tail) > 0 {
				t.chunks <- tail
			}
			return
		case now := <-ticker.C:
			if t.failAfter > 0 && emitted >= t.failAfter {
				t.errs <- errors.New("synthetic device disconnected")
				return
			}
			chunk := t.generate(now.Sub(last))
			last = now
			select {
			case t.chunks <- chunk:
				emitted++
			case <-t.stop:
				t.chunks <- chunk
				return
			}
		}
	}
}

// generate renders d worth of mono little-endian samples, continuing the phase.
func (t *toneStream) generate(d time.Duration) []byte {
	n := int(d.Seconds() * float64(t.rate))
	if n <= 0 {
		return nil
	}
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := math.Sin(2 * math.Pi * t.hz * float64(t.sample) / float64(t.rate))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v*math.MaxInt16/4)))
		t.sample++
	}
	return out
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import (
	"context"
	"time"
)

const (
	DefaultSampleRate    = 44100
	DefaultFlushInterval = time.Second
)

// Constraints are requested from the device on acquisition.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
}

// DefaultConstraints is the voice profile: echo cancellation and noise
// suppression on, 44.1 kHz.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       DefaultSampleRate,
	}
}

// Device is a capture source that can be acquired exclusively.
type Device interface {
	Name() string
	// Acquire opens the device and starts emitting encoded chunks every flush
	// interval. Errors mean the device is unavailable or permission was denied.
	Acquire(ctx context.Context, c Constraints, flush time.Duration) (Stream, error)
}

// Stream is one acquisition of a device.
type Stream interface {
	// Chunks delivers encoded data in order. It is closed after Release has
	// flushed the remaining data, or after a failure was reported on Errors.
	Chunks() <-chan []byte
	// Errors reports at most one mid-capture failure.
	Errors() <-chan error
	// Release stops the device. It is idempotent.
	Release() error
}

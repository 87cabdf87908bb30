// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/voxsync/internal/capture"
	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
)

func TestNew_UnknownKindFailsClosed(t *testing.T) {
	_, err := New(Config{Kind: "alsa-direct"})
	require.Error(t, err)

	dev, err := New(Config{Kind: "synthetic"})
	require.NoError(t, err)
	assert.Equal(t, "synthetic", dev.Name())
}

func TestFFmpeg_BuildArgs(t *testing.T) {
	f := NewFFmpeg("", "pulse", "mic")
	args := f.buildArgs(capture.DefaultConstraints())

	assert.Equal(t, "ffmpeg", f.BinaryPath)
	assert.Contains(t, args, "afftdn")
	assert.Contains(t, args, "44100")
	assert.Contains(t, args, "libopus")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	idx := indexOf(args, "-i")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "mic", args[idx+1])

	plain := f.buildArgs(capture.Constraints{SampleRate: 16000})
	assert.NotContains(t, plain, "afftdn")
	assert.Contains(t, plain, "16000")
}

func TestFFmpeg_AVFoundationDevicePrefix(t *testing.T) {
	f := NewFFmpeg("ffmpeg", "avfoundation", "0")
	args := f.buildArgs(capture.DefaultConstraints())
	assert.Equal(t, ":0", args[indexOf(args, "-i")+1])
}

func TestFFmpeg_MissingBinaryIsUnavailable(t *testing.T) {
	f := NewFFmpeg(filepath.Join(t.TempDir(), "no-ffmpeg"), "pulse", "default")
	_, err := f.Acquire(context.Background(), capture.DefaultConstraints(), time.Second)
	require.Error(t, err)
}

func TestSynthetic_SessionRoundTrip(t *testing.T) {
	dev := NewSynthetic(SyntheticOptions{})
	st := store.NewMemoryStore()
	s := capture.NewSession(dev, st, model.NewIDSource(0), capture.Options{FlushInterval: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	time.Sleep(50 * time.Millisecond)
	rec, err := s.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.Payload)
	assert.Equal(t, int64(len(rec.Payload)), rec.SizeBytes)
	assert.Zero(t, len(rec.Payload)%2, "16-bit samples")
}

func TestSynthetic_FailureSurfacesOnStop(t *testing.T) {
	dev := NewSynthetic(SyntheticOptions{FailAfter: 1})
	s := capture.NewSession(dev, store.NewMemoryStore(), model.NewIDSource(0), capture.Options{FlushInterval: 5 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	select {
	case err := <-s.Errors():
		assert.ErrorIs(t, err, capture.ErrCaptureFailed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected device failure")
	}
	_, err := s.Stop(ctx)
	assert.ErrorIs(t, err, capture.ErrCaptureFailed)
}

func TestSynthetic_Unavailable(t *testing.T) {
	dev := NewSynthetic(SyntheticOptions{Unavailable: true})
	s := capture.NewSession(dev, store.NewMemoryStore(), model.NewIDSource(0), capture.Options{})
	assert.ErrorIs(t, s.Start(context.Background()), capture.ErrDeviceUnavailable)
}

func indexOf(args []string, v string) int {
	for i, a := range args {
		if a == v {
			return i
		}
	}
	return -1
}

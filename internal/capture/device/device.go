// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device provides capture.Device implementations.
package device

import (
	"fmt"

	"github.com/ManuGH/voxsync/internal/capture"
)

// Config selects and tunes a device.
type Config struct {
	Kind        string // ffmpeg | synthetic
	FFmpegBin   string
	InputFormat string
	InputDevice string
}

// New returns the configured device. Unknown kinds fail closed.
func New(cfg Config) (capture.Device, error) {
	switch cfg.Kind {
	case "", "ffmpeg":
		return NewFFmpeg(cfg.FFmpegBin, cfg.InputFormat, cfg.InputDevice), nil
	case "synthetic":
		return NewSynthetic(SyntheticOptions{}), nil
	default:
		return nil, fmt.Errorf("unknown capture device: %s (supported: ffmpeg, synthetic)", cfg.Kind)
	}
}

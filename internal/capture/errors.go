// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package capture

import "errors"

var (
	// ErrDeviceUnavailable means the device could not be acquired (missing or permission denied).
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrAlreadyCapturing is returned by Start when a capture is in progress.
	ErrAlreadyCapturing = errors.New("capture already in progress")
	// ErrPersistence means the finalized record could not be written to the store.
	ErrPersistence = errors.New("failed to persist recording")
	// ErrCaptureFailed means the device failed mid-capture and the data was discarded.
	ErrCaptureFailed = errors.New("capture failed")
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldRecordingID   = "recording_id"
	FieldIdentity      = "identity"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldReason    = "reason"

	// Recording fields
	FieldFilename = "filename"
	FieldDuration = "duration_s"
	FieldSize     = "size_bytes"
	FieldDevice   = "device"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network / cache fields
	FieldURL        = "url"
	FieldPath       = "path"
	FieldGeneration = "generation"
	FieldProvider   = "provider"
	FieldStatus     = "status"
)

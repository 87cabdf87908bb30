// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// SyncStatus is the derived upload state of a recording as shown to clients.
// JSON values are lower-case to match API conventions.
type SyncStatus string

const (
	SyncStatusLocal    SyncStatus = "local"
	SyncStatusUploaded SyncStatus = "uploaded"
)

// Status derives the sync status from the uploaded flag.
func (r Record) Status() SyncStatus {
	if r.Uploaded {
		return SyncStatusUploaded
	}
	return SyncStatusLocal
}

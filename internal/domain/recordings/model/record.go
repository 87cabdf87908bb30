// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model defines the recording record shared by capture, storage and sync.
package model

import (
	"fmt"
	"sort"
	"time"
)

const (
	// DefaultExtension matches the opus-in-webm container produced by capture devices.
	DefaultExtension = "webm"
	// DefaultMimeType is the content type sent to remote providers.
	DefaultMimeType = "audio/webm"

	filenameLayout = "20060102T1504"
)

// Record is the durable representation of one completed capture.
// Every field except Uploaded is immutable after creation.
type Record struct {
	ID              int64     `json:"id"`
	Filename        string    `json:"filename"`
	Payload         []byte    `json:"-"`
	MimeType        string    `json:"mimeType"`
	DurationSeconds int       `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
	SizeBytes       int64     `json:"sizeBytes"`
	Uploaded        bool      `json:"uploaded"`
}

// New builds a record for a finalized capture. SizeBytes is derived from payload.
func New(id int64, createdAt time.Time, payload []byte, durationSeconds int) Record {
	return Record{
		ID:              id,
		Filename:        FilenameFor(createdAt, DefaultExtension),
		Payload:         payload,
		MimeType:        DefaultMimeType,
		DurationSeconds: durationSeconds,
		CreatedAt:       createdAt,
		SizeBytes:       int64(len(payload)),
	}
}

// FilenameFor derives the user-facing filename from the creation time (UTC).
func FilenameFor(createdAt time.Time, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("recording_%s.%s", createdAt.UTC().Format(filenameLayout), ext)
}

// MarkUploaded returns a copy with the uploaded flag set. The flag never reverts.
func (r Record) MarkUploaded() Record {
	r.Uploaded = true
	return r
}

// WithoutPayload returns a copy sharing no payload, for listings.
func (r Record) WithoutPayload() Record {
	r.Payload = nil
	return r
}

// DurationSecondsBetween is floor((stop-start)/1s), never negative.
func DurationSecondsBetween(start, stop time.Time) int {
	d := stop.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// SortNewestFirst orders by CreatedAt descending, ties by ID descending.
func SortNewestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID > recs[j].ID
	})
}

// SortOldestFirst orders by CreatedAt ascending, ties by ID ascending.
func SortOldestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

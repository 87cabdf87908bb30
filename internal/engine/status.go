// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"sync"
	"time"
)

// Level of a status message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// StatusEntry is one short human-readable outcome.
type StatusEntry struct {
	At      time.Time `json:"at"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
}

// statusFeed is a fixed-size ring of the most recent entries.
type statusFeed struct {
	mu      sync.RWMutex
	entries []StatusEntry
	next    int
	full    bool
}

func newStatusFeed(size int) *statusFeed {
	if size <= 0 {
		size = 50
	}
	return &statusFeed{entries: make([]StatusEntry, size)}
}

func (f *statusFeed) add(e StatusEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[f.next] = e
	f.next = (f.next + 1) % len(f.entries)
	if f.next == 0 {
		f.full = true
	}
}

func (f *statusFeed) latest() (StatusEntry, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.full && f.next == 0 {
		return StatusEntry{}, false
	}
	i := f.next - 1
	if i < 0 {
		i = len(f.entries) - 1
	}
	return f.entries[i], true
}

// history returns entries oldest first.
func (f *statusFeed) history() []StatusEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.full {
		return append([]StatusEntry(nil), f.entries[:f.next]...)
	}
	out := make([]StatusEntry, 0, len(f.entries))
	out = append(out, f.entries[f.next:]...)
	return append(out, f.entries[:f.next]...)
}

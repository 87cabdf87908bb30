// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"sync"
	"time"
)

// IDSource hands out creation-time based ids: unix milliseconds, bumped past
// the previous value so ids stay strictly increasing even within one millisecond
// or when the wall clock steps backwards.
type IDSource struct {
	mu   sync.Mutex
	last int64
}

// NewIDSource returns a source that never returns a value <= floor.
// Seed floor with the largest persisted id so restarts never reuse one.
func NewIDSource(floor int64) *IDSource {
	return &IDSource{last: floor}
}

// Next returns the next id for a record created at now.
func (s *IDSource) Next(now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := now.UnixMilli()
	if id <= s.last {
		id = s.last + 1
	}
	s.last = id
	return id
}

// Observe raises the floor to id if it is larger.
func (s *IDSource) Observe(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id > s.last {
		s.last = id
	}
}

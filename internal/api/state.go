// SPDX-License-Identifier: MIT

package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// stateStore tracks OAuth state values handed out with consent URLs. Each
// state is accepted once and expires after ttl.
type stateStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	issued map[string]time.Time
}

func newStateStore(ttl time.Duration) *stateStore {
	return &stateStore{ttl: ttl, now: time.Now, issued: make(map[string]time.Time)}
}

func (s *stateStore) issue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, at := range s.issued {
		if now.Sub(at) > s.ttl {
			delete(s.issued, k)
		}
	}
	st := uuid.NewString()
	s.issued[st] = now
	return st
}

func (s *stateStore) consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.issued[state]
	if !ok {
		return false
	}
	delete(s.issued, state)
	return s.now().Sub(at) <= s.ttl
}

// SPDX-License-Identifier: MIT

package cachestore

import (
	"bytes"
	"context"
	"sync"
)

// Memory is an in-process Store. It is not durable.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]map[string]Snapshot
	ready   map[string]struct{}
	current string
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]map[string]Snapshot),
		ready:   make(map[string]struct{}),
	}
}

func (m *Memory) Get(_ context.Context, gen, key string) (Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.entries[gen][key]
	if !ok {
		return Snapshot{}, false, nil
	}
	return copySnapshot(s), true, nil
}

func (m *Memory) Put(_ context.Context, gen, key string, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.entries[gen]
	if !ok {
		bucket = make(map[string]Snapshot)
		m.entries[gen] = bucket
	}
	bucket[key] = copySnapshot(s)
	return nil
}

func (m *Memory) MarkReady(_ context.Context, gen string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready[gen] = struct{}{}
	return nil
}

func (m *Memory) Ready(_ context.Context, gen string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ready[gen]
	return ok, nil
}

func (m *Memory) Generations(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := make(map[string]struct{}, len(m.entries)+len(m.ready))
	for g := range m.entries {
		set[g] = struct{}{}
	}
	for g := range m.ready {
		set[g] = struct{}{}
	}
	return sortedKeys(set), nil
}

func (m *Memory) DropGeneration(_ context.Context, gen string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, gen)
	delete(m.ready, gen)
	return nil
}

func (m *Memory) SetCurrent(_ context.Context, gen string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = gen
	return nil
}

func (m *Memory) Current(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, nil
}

func (m *Memory) Close() error { return nil }

func copySnapshot(s Snapshot) Snapshot {
	s.Header = s.Header.Clone()
	s.Body = bytes.Clone(s.Body)
	return s
}

var _ Store = (*Memory)(nil)

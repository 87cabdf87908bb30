// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists recording records on the device.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
)

const (
	// SchemaVersion is the durable schema contract: one table keyed by id
	// with a non-unique index on created_at.
	SchemaVersion = 1

	dbName = "recordings.sqlite"
)

var (
	// ErrNotFound is returned when no record exists for the id.
	ErrNotFound = errors.New("recording not found")
	// ErrDuplicateKey is returned when inserting an id that already exists.
	ErrDuplicateKey = errors.New("recording id already exists")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store is the durable record store. Every call is a single-record transaction.
type Store interface {
	// Open idempotently ensures the schema exists. Safe for concurrent callers.
	Open(ctx context.Context) error
	Insert(ctx context.Context, rec model.Record) error
	Update(ctx context.Context, rec model.Record) error
	Get(ctx context.Context, id int64) (model.Record, error)
	// GetAll returns every record in unspecified order.
	GetAll(ctx context.Context) ([]model.Record, error)
	Delete(ctx context.Context, id int64) error
	Close() error
}

// SQLitePath is where the sqlite backend keeps its database under dir.
func SQLitePath(dir string) string { return filepath.Join(dir, dbName) }

// NewStore creates a store for the backend. An empty backend means sqlite;
// sqlite with an empty dir falls back to memory.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "sqlite":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSqliteStore(SQLitePath(dir)), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown recording store backend: %s (supported: sqlite, memory)", backend)
	}
}

// IsNotFound reports whether err means the record is absent. Callers deleting
// a record treat this as already satisfied.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// MemoryStore implements Store using a map (thread-safe). It is not durable.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[int64]model.Record
	closed bool
}

// NewMemoryStore creates an in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[int64]model.Record)}
}

func (s *MemoryStore) Open(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.data[rec.ID]; ok {
		return fmt.Errorf("insert %d: %w", rec.ID, ErrDuplicateKey)
	}
	s.data[rec.ID] = clone(rec)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.data[rec.ID]; !ok {
		return fmt.Errorf("update %d: %w", rec.ID, ErrNotFound)
	}
	s.data[rec.ID] = clone(rec)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Record{}, ErrClosed
	}
	rec, ok := s.data[id]
	if !ok {
		return model.Record{}, fmt.Errorf("get %d: %w", id, ErrNotFound)
	}
	return clone(rec), nil
}

func (s *MemoryStore) GetAll(ctx context.Context) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.Record, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, clone(rec))
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.data[id]; !ok {
		return fmt.Errorf("delete %d: %w", id, ErrNotFound)
	}
	delete(s.data, id)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// clone copies the payload so callers can never mutate stored bytes.
func clone(rec model.Record) model.Record {
	if rec.Payload != nil {
		rec.Payload = append([]byte(nil), rec.Payload...)
	}
	return rec
}

// Ensure compliance
var _ Store = (*MemoryStore)(nil)

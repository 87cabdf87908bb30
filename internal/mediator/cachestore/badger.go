// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Badger is the durable Store. Layout:
//   - gen/<gen>/e/<key>  snapshot (JSON)
//   - gen/<gen>/ready    marker
//   - meta/current       active generation
type Badger struct {
	db *badger.DB
}

const (
	genPrefix  = "gen/"
	currentKey = "meta/current"
)

func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

// OpenBadgerInMemory is used by tests.
func OpenBadgerInMemory() (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (s *Badger) Close() error { return s.db.Close() }

func entryKey(gen, key string) []byte { return []byte(genPrefix + gen + "/e/" + key) }
func readyKey(gen string) []byte      { return []byte(genPrefix + gen + "/ready") }

func (s *Badger) Get(_ context.Context, gen, key string) (Snapshot, bool, error) {
	var out Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(gen, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return out, true, nil
}

func (s *Badger) Put(_ context.Context, gen, key string, snap Snapshot) error {
	buf, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(gen, key), buf)
	})
}

func (s *Badger) MarkReady(_ context.Context, gen string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(readyKey(gen), []byte{1})
	})
}

func (s *Badger) Ready(_ context.Context, gen string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(readyKey(gen))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Badger) Generations(_ context.Context) ([]string, error) {
	set := make(map[string]struct{})
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(genPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), genPrefix)
			if i := strings.IndexByte(rest, '/'); i > 0 {
				set[rest[:i]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedKeys(set), nil
}

func (s *Badger) DropGeneration(_ context.Context, gen string) error {
	return s.db.DropPrefix([]byte(genPrefix + gen + "/"))
}

func (s *Badger) SetCurrent(_ context.Context, gen string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(currentKey), []byte(gen))
	})
}

func (s *Badger) Current(_ context.Context) (string, error) {
	var out string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentKey))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		out = string(v)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	return out, err
}

var _ Store = (*Badger)(nil)

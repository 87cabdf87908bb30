// SPDX-License-Identifier: MIT

// Package cachestore persists mediator responses grouped by cache generation.
package cachestore

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Snapshot is a stored response.
type Snapshot struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Store keeps snapshots per generation. A generation is usable only after
// MarkReady; dropping a generation removes all of its entries at once.
type Store interface {
	Get(ctx context.Context, gen, key string) (Snapshot, bool, error)
	Put(ctx context.Context, gen, key string, s Snapshot) error
	MarkReady(ctx context.Context, gen string) error
	Ready(ctx context.Context, gen string) (bool, error)
	// Generations lists every generation with at least one entry or a ready marker.
	Generations(ctx context.Context) ([]string, error)
	DropGeneration(ctx context.Context, gen string) error
	SetCurrent(ctx context.Context, gen string) error
	// Current returns "" when nothing was activated yet.
	Current(ctx context.Context) (string, error)
	Close() error
}

// Config selects a backend.
type Config struct {
	Backend   string // badger | redis | memory
	Dir       string
	RedisAddr string
	RedisDB   int
}

// New opens the configured backend. Unknown backends fail closed.
func New(cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "badger":
		if cfg.Dir == "" {
			return NewMemory(), nil
		}
		return OpenBadger(filepath.Join(cfg.Dir, "mediator"))
	case "redis":
		return NewRedis(RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB}, logger)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown mediator cache backend: %s (supported: badger, redis, memory)", cfg.Backend)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package connectivity tracks whether the remote provider is reachable and
// publishes online/offline transitions on the bus.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/voxsync/internal/bus"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/metrics"
)

// Source reports the current connectivity state.
type Source interface {
	Online() bool
}

// Manual is a connectivity signal set explicitly. Transitions are published
// on the bus; repeated values are not.
type Manual struct {
	mu     sync.RWMutex
	online bool
	bus    bus.Bus
	logger zerolog.Logger
}

// NewManual starts in the given state. b may be nil.
func NewManual(online bool, b bus.Bus) *Manual {
	return &Manual{
		online: online,
		bus:    b,
		logger: xglog.WithComponent("connectivity"),
	}
}

func (m *Manual) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the state and reports whether it changed.
func (m *Manual) Set(ctx context.Context, online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.mu.Unlock()

	metrics.SetConnectivity(online)
	m.logger.Info().
		Str(xglog.FieldEvent, "connectivity.changed").
		Bool("online", online).
		Msg("connectivity changed")

	if m.bus != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := m.bus.Publish(pubCtx, bus.TopicConnectivity, bus.ConnectivityEvent{Online: online, At: time.Now()}); err != nil {
			m.logger.Warn().Err(err).Msg("failed to publish connectivity event")
		}
	}
	return true
}

var _ Source = (*Manual)(nil)

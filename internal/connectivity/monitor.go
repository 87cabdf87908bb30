// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package connectivity

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/voxsync/internal/bus"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/platform/httpx"
)

// ErrCheckThrottled is returned by CheckNow when called faster than the probe limit.
var ErrCheckThrottled = errors.New("connectivity check throttled")

// MonitorConfig configures periodic probing.
type MonitorConfig struct {
	ProbeURL string
	Interval time.Duration
	Timeout  time.Duration
	// CheckRate bounds on-demand probes; zero means one per second.
	CheckRate rate.Limit
	Client    *http.Client
}

// Monitor probes a URL on an interval. Any HTTP response below 500 counts as
// online; transport errors and 5xx count as offline. An override pins the
// state until cleared.
type Monitor struct {
	*Manual
	cfg     MonitorConfig
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	override *bool
}

func NewMonitor(cfg MonitorConfig, b bus.Bus) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.CheckRate <= 0 {
		cfg.CheckRate = 1
	}
	client := cfg.Client
	if client == nil {
		client = httpx.NewClient(cfg.Timeout)
	}
	return &Monitor{
		Manual:  NewManual(false, b),
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(cfg.CheckRate, 1),
	}
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().Str(xglog.FieldURL, m.cfg.ProbeURL).Dur("interval", m.cfg.Interval).Msg("connectivity monitor started")
	m.tick(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if m.pinned() {
		return
	}
	online := m.probe(ctx)
	if ctx.Err() != nil {
		return
	}
	m.applyProbe(ctx, online)
}

// applyProbe records a probe result unless an override was pinned while the
// probe was in flight.
func (m *Monitor) applyProbe(ctx context.Context, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.override != nil {
		return
	}
	m.Set(ctx, online)
}

// CheckNow probes immediately, bounded by the check rate.
func (m *Monitor) CheckNow(ctx context.Context) (bool, error) {
	if !m.limiter.Allow() {
		return m.Online(), ErrCheckThrottled
	}
	if !m.pinned() {
		m.applyProbe(ctx, m.probe(ctx))
	}
	return m.Online(), nil
}

// Override pins the state; nil clears the pin and the next probe decides.
func (m *Monitor) Override(ctx context.Context, online *bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online == nil {
		m.override = nil
		m.logger.Info().Msg("connectivity override cleared")
		return
	}
	v := *online
	m.override = &v
	m.logger.Info().Bool("online", v).Msg("connectivity override set")
	m.Set(ctx, v)
}

func (m *Monitor) pinned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.override != nil
}

func (m *Monitor) probe(ctx context.Context) bool {
	if m.cfg.ProbeURL == "" {
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		m.logger.Error().Err(err).Str(xglog.FieldURL, m.cfg.ProbeURL).Msg("invalid probe url")
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Msg("connectivity probe failed")
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

var _ Source = (*Monitor)(nil)

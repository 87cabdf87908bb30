// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mediator sits between the application shell and the network.
// Same-origin GET requests are answered from the active cache generation
// when possible; everything else passes through untouched.
package mediator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/mediator/cachestore"
	"github.com/ManuGH/voxsync/internal/metrics"
	"github.com/ManuGH/voxsync/internal/platform/httpx"
	"github.com/ManuGH/voxsync/internal/telemetry"
)

// DefaultBypassHosts are provider domains that must never be cached.
var DefaultBypassHosts = []string{"googleapis.com", "google.com"}

// DefaultManifest is the application shell.
var DefaultManifest = []string{"/", "/index.html", "/app.js", "/style.css", "/manifest.json"}

const defaultMaxBodyBytes = 32 << 20

// errBodyTooLarge marks an origin response over the body limit. Such
// responses are never stored; RoundTrip passes them through uncached.
var errBodyTooLarge = errors.New("mediator: response body exceeds limit")

// Config configures a Mediator.
type Config struct {
	// Origin is the base URL the shell is fetched from.
	Origin       string
	Manifest     []string
	BypassHosts  []string
	Transport    http.RoundTripper
	Now          func() time.Time
	// MaxBodyBytes caps a cacheable body; zero means 32 MiB.
	MaxBodyBytes int64
}

// Mediator is an http.RoundTripper with a generation-scoped cache.
type Mediator struct {
	origin   *url.URL
	manifest []string
	bypass   []string
	base     http.RoundTripper
	store    cachestore.Store
	now      func() time.Time
	maxBody  int64
	logger   zerolog.Logger
	flight   singleflight.Group

	mu      sync.RWMutex
	current string
}

// New builds a Mediator over store. Call Load to restore the active generation.
func New(store cachestore.Store, cfg Config) (*Mediator, error) {
	origin, err := url.Parse(strings.TrimRight(cfg.Origin, "/"))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("mediator: invalid origin %q", cfg.Origin)
	}
	base := cfg.Transport
	if base == nil {
		base = httpx.NewTransport(10 * time.Second)
	}
	manifest := cfg.Manifest
	if len(manifest) == 0 {
		manifest = DefaultManifest
	}
	bypass := append(append([]string(nil), DefaultBypassHosts...), cfg.BypassHosts...)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Mediator{
		origin:   origin,
		manifest: manifest,
		bypass:   bypass,
		base:     base,
		store:    store,
		now:      now,
		maxBody:  maxBody,
		logger:   log.WithComponent("mediator"),
	}, nil
}

// Load restores the active generation from the store.
func (m *Mediator) Load(ctx context.Context) error {
	gen, err := m.store.Current(ctx)
	if err != nil {
		return fmt.Errorf("mediator: load current generation: %w", err)
	}
	m.mu.Lock()
	m.current = gen
	m.mu.Unlock()
	if gen != "" {
		metrics.SetMediatorGeneration(gen)
	}
	return nil
}

// Version returns the active generation tag, or "" before the first Activate.
func (m *Mediator) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Install fetches every manifest entry from the origin and stores it under
// gen. The generation is marked ready only when all entries were stored;
// otherwise everything written for gen is discarded.
func (m *Mediator) Install(ctx context.Context, gen string) error {
	if gen == "" {
		return fmt.Errorf("%w: empty generation", ErrInstallIncomplete)
	}
	logger := m.logger.With().Str(log.FieldGeneration, gen).Logger()

	fail := func(cause error) error {
		if err := m.store.DropGeneration(context.WithoutCancel(ctx), gen); err != nil {
			logger.Warn().Err(err).Msg("failed to discard partial generation")
		}
		logger.Warn().Err(cause).Str(log.FieldEvent, "mediator.install_failed").Msg("install failed")
		return fmt.Errorf("%w: %w", ErrInstallIncomplete, cause)
	}

	for _, p := range m.manifest {
		target := m.resolve(p)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fail(err)
		}
		snap, err := m.fetch(req)
		if err != nil {
			return fail(fmt.Errorf("%s: %w", p, err))
		}
		if snap.Status != http.StatusOK {
			return fail(fmt.Errorf("%s: status %d", p, snap.Status))
		}
		if err := m.store.Put(ctx, gen, cacheKey(http.MethodGet, target), snap); err != nil {
			return fail(fmt.Errorf("%s: store: %w", p, err))
		}
	}
	if err := m.store.MarkReady(ctx, gen); err != nil {
		return fail(err)
	}
	logger.Info().Str(log.FieldEvent, "mediator.installed").Int("entries", len(m.manifest)).Msg("generation installed")
	return nil
}

// Activate makes gen current and deletes every other generation.
func (m *Mediator) Activate(ctx context.Context, gen string) error {
	ready, err := m.store.Ready(ctx, gen)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("%w: %s", ErrGenerationNotReady, gen)
	}
	if err := m.store.SetCurrent(ctx, gen); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = gen
	m.mu.Unlock()
	metrics.SetMediatorGeneration(gen)

	gens, err := m.store.Generations(ctx)
	if err != nil {
		return err
	}
	for _, g := range gens {
		if g == gen {
			continue
		}
		if err := m.store.DropGeneration(ctx, g); err != nil {
			return fmt.Errorf("mediator: drop generation %s: %w", g, err)
		}
	}
	m.logger.Info().
		Str(log.FieldEvent, "mediator.activated").
		Str(log.FieldGeneration, gen).
		Int("purged", len(gens)-1).
		Msg("generation activated")
	return nil
}

// RoundTrip implements http.RoundTripper.
func (m *Mediator) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || m.bypassed(req.URL.Hostname()) {
		metrics.IncMediator("bypass")
		return m.base.RoundTrip(req)
	}

	ctx, span := telemetry.Tracer("voxsync/mediator").Start(req.Context(), "mediator.roundtrip")
	defer span.End()

	gen := m.Version()
	key := cacheKey(req.Method, req.URL.String())

	if gen != "" {
		snap, ok, err := m.store.Get(ctx, gen, key)
		if err != nil {
			m.logger.Warn().Err(err).Str(log.FieldURL, key).Msg("cache lookup failed")
		} else if ok {
			metrics.IncMediator("hit")
			span.SetAttributes(telemetry.MediatorAttributes("hit", gen)...)
			m.logger.Debug().Str(log.FieldEvent, "mediator.cache_hit").Str(log.FieldURL, key).Msg("served from cache")
			return toResponse(req, snap), nil
		}
	}

	v, err, shared := m.flight.Do(key, func() (any, error) {
		snap, err := m.fetch(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if gen != "" && snap.Status == http.StatusOK && m.sameOrigin(req.URL) {
			if err := m.store.Put(ctx, gen, key, snap); err != nil {
				m.logger.Warn().Err(err).Str(log.FieldURL, key).Msg("cache write failed")
			} else {
				metrics.IncMediatorStore()
			}
		}
		return snap, nil
	})
	span.SetAttributes(attribute.Bool("mediator.shared", shared))

	if errors.Is(err, errBodyTooLarge) {
		metrics.IncMediator("oversize")
		span.SetAttributes(telemetry.MediatorAttributes("oversize", gen)...)
		m.logger.Debug().Str(log.FieldEvent, "mediator.oversize").Str(log.FieldURL, key).Msg("response too large to cache, passing through")
		return m.base.RoundTrip(req)
	}
	if err != nil {
		if navigational(req) && gen != "" {
			if snap, ok := m.rootDocument(ctx, gen); ok {
				metrics.IncMediator("fallback")
				span.SetAttributes(telemetry.MediatorAttributes("fallback", gen)...)
				m.logger.Info().Str(log.FieldEvent, "mediator.fallback").Str(log.FieldURL, key).Err(err).Msg("network failed, serving cached shell")
				return toResponse(req, snap), nil
			}
		}
		metrics.IncMediator("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.IncMediator("miss")
	span.SetAttributes(telemetry.MediatorAttributes("miss", gen)...)
	return toResponse(req, v.(cachestore.Snapshot)), nil
}

func (m *Mediator) fetch(req *http.Request) (cachestore.Snapshot, error) {
	resp, err := m.base.RoundTrip(req)
	if err != nil {
		return cachestore.Snapshot{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBody+1))
	if err != nil {
		return cachestore.Snapshot{}, err
	}
	if int64(len(body)) > m.maxBody {
		return cachestore.Snapshot{}, fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, m.maxBody)
	}
	return cachestore.Snapshot{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: m.now().UTC(),
	}, nil
}

func (m *Mediator) rootDocument(ctx context.Context, gen string) (cachestore.Snapshot, bool) {
	for _, p := range []string{"/index.html", "/"} {
		snap, ok, err := m.store.Get(ctx, gen, cacheKey(http.MethodGet, m.resolve(p)))
		if err == nil && ok {
			return snap, true
		}
	}
	return cachestore.Snapshot{}, false
}

func (m *Mediator) resolve(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return m.origin.String() + p
}

func (m *Mediator) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, m.origin.Scheme) && strings.EqualFold(u.Host, m.origin.Host)
}

func (m *Mediator) bypassed(host string) bool {
	host = strings.ToLower(host)
	for _, b := range m.bypass {
		b = strings.ToLower(strings.TrimPrefix(b, "."))
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

func cacheKey(method, rawURL string) string {
	return method + " " + rawURL
}

func navigational(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" || req.Header.Get("Sec-Fetch-Dest") == "document" {
		return true
	}
	accept := req.Header.Get("Accept")
	if accept == "" {
		return false
	}
	first := strings.TrimSpace(strings.Split(accept, ",")[0])
	return strings.HasPrefix(first, "text/html")
}

func toResponse(req *http.Request, s cachestore.Snapshot) *http.Response {
	body := bytes.Clone(s.Body)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        s.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

var _ http.RoundTripper = (*Mediator)(nil)

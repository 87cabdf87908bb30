// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the daemon's HTTP surface: the recording and sync
// control API, probes, metrics, and the mediated app shell.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/voxsync/internal/domain/recordings/model"
	"github.com/ManuGH/voxsync/internal/engine"
	"github.com/ManuGH/voxsync/internal/health"
	"github.com/ManuGH/voxsync/internal/syncq"
)

// Controller is the engine surface the API drives.
type Controller interface {
	Snapshot() engine.Snapshot
	StatusFeed() []engine.StatusEntry
	Recordings() []model.Record
	Recording(id int64) (model.Record, error)
	Audio(ctx context.Context, id int64) (model.Record, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*model.Record, error)
	DeleteRecording(ctx context.Context, id int64) error
	ExportRecording(ctx context.Context, id int64, dir string) (string, error)
	AuthURL(state string) (string, error)
	SignIn(ctx context.Context, code string) error
	SignOut(ctx context.Context) error
	SyncNow(ctx context.Context) (syncq.Report, error)
}

// Connectivity is the connectivity source plus whatever control it offers.
// A Monitor supports Override and CheckNow; a Manual source supports Set.
type Connectivity interface {
	Online() bool
}

type overrider interface {
	Override(ctx context.Context, online *bool)
	CheckNow(ctx context.Context) (bool, error)
}

type setter interface {
	Set(ctx context.Context, online bool) bool
}

// Shell serves the mediated app shell.
type Shell interface {
	Handler() http.Handler
	Version() string
}

// Config holds the API settings that may change on reload.
type Config struct {
	Version        string
	Token          string
	ExportDir      string
	RateLimit      int
	AllowedOrigins []string
	TrustedProxies []string
	TracingService string
}

type Deps struct {
	Engine       Controller
	Health       *health.Manager
	Connectivity Connectivity
	Shell        Shell // optional
}

// Server represents the HTTP API server.
type Server struct {
	mu      sync.RWMutex
	cfg     Config
	trusted []*net.IPNet

	engine  Controller
	health  *health.Manager
	conn    Connectivity
	shell   Shell
	states  *stateStore
	handler http.Handler
}

func New(cfg Config, d Deps) (*Server, error) {
	if d.Engine == nil {
		return nil, errors.New("api: engine is required")
	}
	if d.Health == nil {
		d.Health = health.NewManager(cfg.Version)
	}
	s := &Server{
		cfg:     cfg,
		trusted: parseTrustedProxies(cfg.TrustedProxies),
		engine:  d.Engine,
		health:  d.Health,
		conn:    d.Connectivity,
		shell:   d.Shell,
		states:  newStateStore(10 * time.Minute),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the configured HTTP handler with all routes and middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ApplyConfig swaps the reloadable settings. Router level settings (rate
// limit, origins) take effect on restart.
func (s *Server) ApplyConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Token = cfg.Token
	s.cfg.ExportDir = cfg.ExportDir
}

func (s *Server) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Token
}

func (s *Server) exportDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ExportDir
}

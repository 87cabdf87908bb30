// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/voxsync/internal/config"
	xglog "github.com/ManuGH/voxsync/internal/log"
)

func smokeConfig(t *testing.T) config.AppConfig {
	t.Helper()
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(probe.Close)

	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.DataDir = t.TempDir()
	cfg.API.ListenAddr = "127.0.0.1:0"
	cfg.Store.Backend = "memory"
	cfg.Capture.Device = "synthetic"
	cfg.Remote.Provider = "http"
	cfg.Remote.Endpoint = probe.URL + "/upload"
	cfg.Connectivity.ProbeURL = probe.URL
	return cfg
}

func startApp(t *testing.T, app *App) (string, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	addr := waitAddr(t, app.Manager())
	return "http://" + addr, func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func TestBuild_ServesAPI(t *testing.T) {
	app, err := Build(context.Background(), smokeConfig(t), nil)
	require.NoError(t, err)

	base, stop := startApp(t, app)
	defer stop()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/recordings")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Zero(t, body.Total)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/connectivity")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		var c struct {
			Online bool `json:"online"`
		}
		return json.NewDecoder(resp.Body).Decode(&c) == nil && c.Online
	}, 5*time.Second, 20*time.Millisecond)
}

func TestBuild_RejectsUnknownBackend(t *testing.T) {
	cfg := smokeConfig(t)
	cfg.Store.Backend = "postgres"
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}

func TestBuild_MediatorServesShell(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	}))
	defer origin.Close()

	cfg := smokeConfig(t)
	cfg.Mediator.Enabled = true
	cfg.Mediator.Origin = origin.URL
	cfg.Mediator.CacheBackend = "memory"
	cfg.Mediator.Manifest = []string{"/", "/app.js"}

	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	base, stop := startApp(t, app)
	defer stop()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/version")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		var v struct {
			ShellVersion string `json:"shellVersion"`
		}
		return json.NewDecoder(resp.Body).Decode(&v) == nil && v.ShellVersion == cfg.Mediator.Generation
	}, 5*time.Second, 20*time.Millisecond)
}

func TestApp_RunnerFailureStopsDaemon(t *testing.T) {
	mgr, err := NewManager(DefaultServerConfig("127.0.0.1:0"), testDeps())
	require.NoError(t, err)
	app := NewApp(zerolog.Nop(), nil, mgr)
	boom := errors.New("boom")
	app.AddRunner("failing", func(context.Context) error { return boom })

	err = app.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestApp_RunWithoutManager(t *testing.T) {
	app := NewApp(zerolog.Nop(), nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_ReloadInvokesAppliers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voxsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\nlogLevel: info\n"), 0o600))
	t.Chdir(dir)

	loader := config.NewLoader(path, "", "test")
	initial, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(initial, loader)
	t.Cleanup(func() { _ = xglog.SetLevel("info") })

	mgr, err := NewManager(DefaultServerConfig("127.0.0.1:0"), testDeps())
	require.NoError(t, err)
	app := NewApp(zerolog.Nop(), holder, mgr)

	var applied atomic.Value
	app.OnReload(func(cfg config.AppConfig) { applied.Store(cfg.LogLevel) })

	_, stop := startApp(t, app)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("dataDir: "+dir+"\nlogLevel: debug\n"), 0o600))
	require.NoError(t, holder.Reload(context.Background()))
	require.Eventually(t, func() bool {
		v, _ := applied.Load().(string)
		return v == "debug"
	}, 2*time.Second, 10*time.Millisecond)
}

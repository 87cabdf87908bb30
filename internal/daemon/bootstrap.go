// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/voxsync/internal/api"
	"github.com/ManuGH/voxsync/internal/auth"
	"github.com/ManuGH/voxsync/internal/bus"
	"github.com/ManuGH/voxsync/internal/capture"
	"github.com/ManuGH/voxsync/internal/capture/device"
	"github.com/ManuGH/voxsync/internal/config"
	"github.com/ManuGH/voxsync/internal/connectivity"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
	"github.com/ManuGH/voxsync/internal/engine"
	"github.com/ManuGH/voxsync/internal/health"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/mediator"
	"github.com/ManuGH/voxsync/internal/mediator/cachestore"
	"github.com/ManuGH/voxsync/internal/platform/httpx"
	"github.com/ManuGH/voxsync/internal/remote"
	"github.com/ManuGH/voxsync/internal/telemetry"
)

const serviceName = "voxsync"

// Build wires every component from cfg. holder may be nil, in which case
// the daemon never reloads. On error every resource opened so far is released.
func Build(ctx context.Context, cfg config.AppConfig, holder *config.ConfigHolder) (app *App, err error) {
	logger := xglog.WithComponent("daemon")

	var hooks []namedHook
	defer func() {
		if err == nil {
			return
		}
		for i := len(hooks) - 1; i >= 0; i-- {
			if hookErr := hooks[i].hook(context.WithoutCancel(ctx)); hookErr != nil {
				logger.Warn().Err(hookErr).Str("hook", hooks[i].name).Msg("cleanup after failed bootstrap")
			}
		}
	}()
	addHook := func(name string, h ShutdownHook) {
		hooks = append(hooks, namedHook{name: name, hook: h})
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	addHook("telemetry", tp.Shutdown)

	st, err := store.NewStore(cfg.Store.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	addHook("store", func(context.Context) error { return st.Close() })

	dev, err := device.New(device.Config{
		Kind:        cfg.Capture.Device,
		FFmpegBin:   cfg.Capture.FFmpegBin,
		InputFormat: cfg.Capture.InputFormat,
		InputDevice: cfg.Capture.InputDevice,
	})
	if err != nil {
		return nil, fmt.Errorf("capture device: %w", err)
	}

	uploader, err := remote.New(remote.Config{
		Provider:  cfg.Remote.Provider,
		FolderID:  cfg.Remote.FolderID,
		Endpoint:  cfg.Remote.Endpoint,
		Bucket:    cfg.Remote.Bucket,
		Region:    cfg.Remote.Region,
		AccessKey: cfg.Remote.AccessKey,
		SecretKey: cfg.Remote.SecretKey,
	}, httpx.NewTracedClient(cfg.Remote.Timeout, "remote.upload"))
	if err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	if cfg.Remote.BreakerThreshold > 0 {
		uploader = remote.NewGuarded(uploader, cfg.Remote.BreakerThreshold, cfg.Remote.BreakerReset)
	}

	b := bus.NewMemoryBus()

	gate, err := buildGate(cfg, b)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	monitor := connectivity.NewMonitor(connectivity.MonitorConfig{
		ProbeURL: cfg.Connectivity.ProbeURL,
		Interval: cfg.Connectivity.Interval,
		Timeout:  cfg.Connectivity.Timeout,
	}, b)

	eng := engine.New(engine.Deps{
		Store:    st,
		Device:   dev,
		Uploader: uploader,
		Gate:     gate,
		Conn:     monitor,
		Bus:      b,
		Capture:  capture.Options{FlushInterval: cfg.Capture.FlushInterval},
		FeedSize: cfg.Capture.StatusHistory,
	})
	if err := eng.Load(ctx); err != nil {
		return nil, fmt.Errorf("engine load: %w", err)
	}

	var (
		shell    *mediator.Mediator
		switcher *shellSwitcher
	)
	if cfg.Mediator.Enabled {
		cs, err := cachestore.New(cachestore.Config{
			Backend:   cfg.Mediator.CacheBackend,
			Dir:       cfg.DataDir,
			RedisAddr: cfg.Mediator.RedisAddr,
		}, xglog.WithComponent("cachestore"))
		if err != nil {
			return nil, fmt.Errorf("mediator cache: %w", err)
		}
		addHook("mediator-cache", func(context.Context) error { return cs.Close() })

		shell, err = mediator.New(cs, mediator.Config{
			Origin:      cfg.Mediator.Origin,
			Manifest:    cfg.Mediator.Manifest,
			BypassHosts: cfg.Mediator.BypassHosts,
		})
		if err != nil {
			return nil, err
		}
		if err := shell.Load(ctx); err != nil {
			return nil, err
		}
		switcher = newShellSwitcher(shell, cfg.Mediator.Generation)
	}

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	hm.RegisterChecker(health.NewStoreChecker(health.ListerFunc(func(ctx context.Context) (int, error) {
		recs, err := st.GetAll(ctx)
		return len(recs), err
	})))
	hm.RegisterChecker(health.NewConnectivityChecker(monitor.Online))
	hm.RegisterChecker(health.NewAuthChecker(gate.SignedIn))
	if shell != nil {
		hm.RegisterChecker(health.NewMediatorChecker(shell.Version))
	}

	apiDeps := api.Deps{
		Engine:       eng,
		Health:       hm,
		Connectivity: monitor,
	}
	if shell != nil {
		apiDeps.Shell = shell
	}
	srv, err := api.New(apiConfig(cfg), apiDeps)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	mgr, err := NewManager(DefaultServerConfig(cfg.API.ListenAddr), Deps{
		Logger:     xglog.WithComponent("daemon"),
		APIHandler: srv.Handler(),
	})
	if err != nil {
		return nil, err
	}
	for _, h := range hooks {
		mgr.RegisterShutdownHook(h.name, h.hook)
	}

	app = NewApp(logger, holder, mgr)
	app.AddRunner("engine", eng.Run)
	app.AddRunner("connectivity", monitor.Run)
	if switcher != nil {
		app.AddRunner("shell", switcher.Run)
	}
	app.OnReload(func(next config.AppConfig) {
		srv.ApplyConfig(apiConfig(next))
		if switcher != nil && next.Mediator.Enabled {
			switcher.Want(next.Mediator.Generation)
		}
	})

	logger.Info().
		Str(xglog.FieldEvent, "daemon.built").
		Str("store", cfg.Store.Backend).
		Str("device", cfg.Capture.Device).
		Str("remote", cfg.Remote.Provider).
		Bool("mediator", shell != nil).
		Msg("daemon assembled")
	return app, nil
}

// buildGate picks the auth gate. A static token wins over OAuth; with
// neither configured the gate is permanently signed out.
func buildGate(cfg config.AppConfig, b bus.Bus) (auth.Gate, error) {
	switch {
	case cfg.Auth.StaticToken != "":
		return auth.NewStaticGate(cfg.Auth.StaticToken, ""), nil
	case cfg.Auth.ClientID != "":
		tokenFile := cfg.Auth.TokenFile
		if tokenFile == "" && cfg.DataDir != "" {
			tokenFile = filepath.Join(cfg.DataDir, "oauth_token.json")
		}
		return auth.NewOAuthGate(auth.OAuthConfig{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			RedirectURL:  cfg.Auth.RedirectURL,
			TokenFile:    tokenFile,
			HTTPClient:   httpx.NewClient(cfg.Remote.Timeout),
		}, b)
	default:
		return auth.NewStaticGate("", ""), nil
	}
}

func apiConfig(cfg config.AppConfig) api.Config {
	return api.Config{
		Version:        cfg.Version,
		Token:          cfg.API.Token,
		ExportDir:      exportDir(cfg),
		RateLimit:      cfg.API.RateLimit,
		AllowedOrigins: cfg.API.AllowedOrigins,
		TrustedProxies: cfg.API.TrustedProxies,
		TracingService: serviceName,
	}
}

func exportDir(cfg config.AppConfig) string {
	if cfg.API.ExportDir != "" {
		return cfg.API.ExportDir
	}
	return filepath.Join(cfg.DataDir, "exports")
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/voxsync/internal/config"
	xglog "github.com/ManuGH/voxsync/internal/log"
)

// Runner is a long-lived background task bound to the daemon context.
type Runner func(ctx context.Context) error

type namedRunner struct {
	name string
	run  Runner
}

// App is the assembled daemon: the server manager plus background runners
// and reload appliers.
type App struct {
	logger    zerolog.Logger
	cfgHolder *config.ConfigHolder
	manager   Manager

	runners  []namedRunner
	appliers []func(config.AppConfig)
}

// NewApp creates an App around an existing manager. cfgHolder may be nil.
func NewApp(logger zerolog.Logger, cfgHolder *config.ConfigHolder, mgr Manager) *App {
	return &App{logger: logger, cfgHolder: cfgHolder, manager: mgr}
}

// Manager returns the underlying server manager.
func (a *App) Manager() Manager { return a.manager }

// AddRunner registers a background task. A runner returning an error stops the daemon.
func (a *App) AddRunner(name string, run Runner) {
	a.runners = append(a.runners, namedRunner{name: name, run: run})
}

// OnReload registers a function invoked with every successfully reloaded config.
func (a *App) OnReload(fn func(config.AppConfig)) {
	a.appliers = append(a.appliers, fn)
}

// Run starts the daemon and blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(gctx); err != nil {
			a.logger.Warn().Err(err).Msg("config watcher unavailable; SIGHUP reload still works")
		}

		reloadCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(reloadCh)
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case cfg := <-reloadCh:
					a.apply(cfg)
				}
			}
		})

		sigHup := make(chan os.Signal, 1)
		signal.Notify(sigHup, syscall.SIGHUP)
		g.Go(func() error {
			defer signal.Stop(sigHup)
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-sigHup:
					a.logger.Info().Str(xglog.FieldEvent, "config.sighup").Msg("received SIGHUP, reloading configuration")
					if err := a.cfgHolder.Reload(gctx); err != nil {
						a.logger.Error().Err(err).Msg("configuration reload failed")
					}
				}
			}
		})
	}

	for _, r := range a.runners {
		g.Go(func() error {
			if err := r.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error().Err(err).Str("runner", r.name).Msg("background runner failed")
				return fmt.Errorf("%s: %w", r.name, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.manager.Start(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) apply(cfg config.AppConfig) {
	if err := xglog.SetLevel(cfg.LogLevel); err != nil {
		a.logger.Warn().Err(err).Str("level", cfg.LogLevel).Msg("ignoring invalid log level on reload")
	}
	for _, fn := range a.appliers {
		fn(cfg)
	}
	a.logger.Info().Str(xglog.FieldEvent, "config.applied").Msg("configuration applied")
}

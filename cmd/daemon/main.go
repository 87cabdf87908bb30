// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command voxsync runs the recording daemon and its maintenance subcommands.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/voxsync/internal/config"
	"github.com/ManuGH/voxsync/internal/daemon"
	"github.com/ManuGH/voxsync/internal/health"
	xglog "github.com/ManuGH/voxsync/internal/log"
	"github.com/ManuGH/voxsync/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "storage":
			os.Exit(runStorageCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("voxsync", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "path to config file (YAML)")
	envFile := fs.String("env-file", "", "path to a .env file (default: ./.env if present)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Println(version.String())
		return 0
	}

	// Safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "voxsync",
		Version: version.Current(),
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(strings.TrimSpace(*configPath), strings.TrimSpace(*envFile), version.Current())
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
		return 1
	}
	if err := xglog.SetLevel(cfg.LogLevel); err != nil {
		logger.Warn().Err(err).Msg("invalid log level, keeping info")
	}

	source := "env+defaults"
	if loader.ConfigPath() != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", loader.ConfigPath()).
		Str("data_dir", cfg.DataDir).
		Str("listen", cfg.API.ListenAddr).
		Str("remote", cfg.Remote.Provider).
		Str("remote_endpoint", maskURL(cfg.Remote.Endpoint)).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "startup.check_failed").
			Msg("startup checks failed; verify configuration and permissions")
		return 1
	}

	holder := config.NewConfigHolder(cfg, loader)
	app, err := daemon.Build(ctx, cfg, holder)
	if err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.build_failed").Msg("failed to assemble daemon")
		return 1
	}

	logger.Info().
		Str(xglog.FieldEvent, "daemon.starting").
		Str("version", version.Current()).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Msg("starting voxsync")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		return 1
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.stopped").Msg("server exiting")
	return 0
}

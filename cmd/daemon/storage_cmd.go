// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ManuGH/voxsync/internal/config"
	"github.com/ManuGH/voxsync/internal/domain/recordings/store"
	"github.com/ManuGH/voxsync/internal/persistence/sqlite"
	"github.com/ManuGH/voxsync/internal/version"
)

func runStorageCLI(args []string) int {
	return storageCLI(context.Background(), args, os.Stdout, os.Stderr)
}

func storageCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printStorageUsage(stdout)
		return 0
	}

	switch args[0] {
	case "verify":
		return runStorageVerify(ctx, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printStorageUsage(stderr)
		return 2
	}
}

func printStorageUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  voxsync storage verify [--path PATH | --config FILE] [--mode quick|full]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Flags:")
	_, _ = fmt.Fprintln(w, "  --path string    Path to the recordings database")
	_, _ = fmt.Fprintln(w, "  --config string  Resolve the database from the configured data dir")
	_, _ = fmt.Fprintln(w, "  --mode string    Verification mode: quick (default) or full")
}

func runStorageVerify(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("voxsync storage verify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var path, configPath, mode string
	fs.StringVar(&path, "path", "", "Path to the recordings database")
	fs.StringVar(&configPath, "config", "", "Config file used to locate the data dir")
	fs.StringVar(&mode, "mode", "quick", "Verification mode: quick or full")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != "quick" && mode != "full" {
		_, _ = fmt.Fprintf(stderr, "Error: invalid mode %q. Use 'quick' or 'full'.\n", mode)
		return 2
	}

	if path == "" {
		cfg, err := config.NewLoader(strings.TrimSpace(configPath), "", version.Current()).Load()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if cfg.Store.Backend == "memory" {
			_, _ = fmt.Fprintln(stderr, "Error: store.backend is memory; nothing to verify")
			return 2
		}
		path = store.SQLitePath(cfg.DataDir)
	}
	if _, err := os.Stat(path); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	_, _ = fmt.Fprintf(stderr, "Verifying integrity of %s (mode: %s)...\n", path, mode)
	issues, err := sqlite.VerifyIntegrity(ctx, path, mode)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Verification interrupted: %v\n", err)
		return 1
	}
	if len(issues) > 0 {
		_, _ = fmt.Fprintln(stderr, "CORRUPTION DETECTED")
		for _, issue := range issues {
			_, _ = fmt.Fprintf(stderr, "  - %s\n", issue)
		}
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "Integrity verified: ok")
	return 0
}

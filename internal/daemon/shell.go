// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/voxsync/internal/log"
)

// shellInstaller is the part of the mediator the switcher drives.
type shellInstaller interface {
	Version() string
	Install(ctx context.Context, gen string) error
	Activate(ctx context.Context, gen string) error
}

// shellSwitcher installs and activates the desired shell generation,
// retrying with backoff while the origin is unreachable.
type shellSwitcher struct {
	shell      shellInstaller
	want       chan string
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     zerolog.Logger
}

func newShellSwitcher(shell shellInstaller, initial string) *shellSwitcher {
	s := &shellSwitcher{
		shell:      shell,
		want:       make(chan string, 1),
		minBackoff: 5 * time.Second,
		maxBackoff: 5 * time.Minute,
		logger:     xglog.WithComponent("shell"),
	}
	s.Want(initial)
	return s
}

// Want replaces the pending target generation. It never blocks.
func (s *shellSwitcher) Want(gen string) {
	for {
		select {
		case s.want <- gen:
			return
		default:
		}
		select {
		case <-s.want:
		default:
		}
	}
}

func (s *shellSwitcher) Run(ctx context.Context) error {
	var (
		desired string
		retry   <-chan time.Time
		backoff = s.minBackoff
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case desired = <-s.want:
			backoff = s.minBackoff
		case <-retry:
		}
		retry = nil

		if desired == "" || desired == s.shell.Version() {
			continue
		}
		if err := s.switchTo(ctx, desired); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn().Err(err).
				Str(xglog.FieldGeneration, desired).
				Dur("retry_in", backoff).
				Msg("shell generation not installed")
			retry = time.After(backoff)
			backoff = min(backoff*2, s.maxBackoff)
		}
	}
}

func (s *shellSwitcher) switchTo(ctx context.Context, gen string) error {
	if err := s.shell.Install(ctx, gen); err != nil {
		return err
	}
	return s.shell.Activate(ctx, gen)
}

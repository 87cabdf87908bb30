// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package remote

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/voxsync/internal/resilience"
)

// Guarded fails uploads fast while the provider keeps failing, so a sync
// pass over a long backlog does not wait out one timeout per record.
type Guarded struct {
	next    Uploader
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps next with a breaker that opens after threshold
// consecutive failures and probes again after reset.
func NewGuarded(next Uploader, threshold int, reset time.Duration) *Guarded {
	return &Guarded{
		next: next,
		breaker: resilience.NewCircuitBreaker("remote."+next.Name(), threshold, reset,
			resilience.WithIgnore(func(err error) bool { return errors.Is(err, context.Canceled) })),
	}
}

func (g *Guarded) Name() string { return g.next.Name() }

func (g *Guarded) Upload(ctx context.Context, token string, obj Object) (RemoteRef, error) {
	var ref RemoteRef
	err := g.breaker.Execute(func() error {
		var err error
		ref, err = g.next.Upload(ctx, token, obj)
		return err
	})
	return ref, err
}

// State reports the breaker state.
func (g *Guarded) State() resilience.State { return g.breaker.State() }

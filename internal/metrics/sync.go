// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxsync_uploads_total",
		Help: "Upload attempts by provider and outcome",
	}, []string{"provider", "outcome"}) // outcome=success|failure

	uploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxsync_upload_duration_seconds",
		Help:    "Duration of single recording uploads",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	SyncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxsync_sync_passes_total",
		Help: "Sync passes by result",
	}, []string{"result"}) // result=skipped|completed|error

	syncPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxsync_sync_pending",
		Help: "Recordings not yet uploaded at the start of the last pass",
	})
)

// ObserveUpload records a finished upload attempt.
func ObserveUpload(provider string, ok bool, d time.Duration) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	if provider == "" {
		provider = "unknown"
	}
	UploadsTotal.WithLabelValues(provider, outcome).Inc()
	uploadDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// IncSyncPass counts a pass with its result.
func IncSyncPass(result string) {
	SyncPassesTotal.WithLabelValues(result).Inc()
}

// SetSyncPending sets the backlog gauge.
func SetSyncPending(n int) {
	syncPending.Set(float64(n))
}

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxsync_circuit_breaker_state",
		Help: "1 for the current state of the named breaker, 0 otherwise",
	}, []string{"name", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxsync_circuit_breaker_trips_total",
		Help: "Breaker transitions to open by reason",
	}, []string{"name", "reason"})
)

var breakerStates = []string{"closed", "open", "half-open"}

// SetBreakerState marks state as the current one for name.
func SetBreakerState(name, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(name, s).Set(v)
	}
}

// IncBreakerTrip counts a transition to open.
func IncBreakerTrip(name, reason string) {
	breakerTrips.WithLabelValues(name, reason).Inc()
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectivityOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxsync_connectivity_online",
		Help: "Whether the remote provider is reachable (1) or not (0)",
	})

	connectivityTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxsync_connectivity_transitions_total",
		Help: "Connectivity transitions by new state",
	}, []string{"state"})

	authSignedIn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxsync_auth_signed_in",
		Help: "Whether an identity is signed in (1) or not (0)",
	})
)

// SetConnectivity records the current state and counts the transition.
func SetConnectivity(online bool) {
	state := "offline"
	if online {
		state = "online"
		connectivityOnline.Set(1)
	} else {
		connectivityOnline.Set(0)
	}
	connectivityTransitions.WithLabelValues(state).Inc()
}

// SetSignedIn reports the auth gate state.
func SetSignedIn(signedIn bool) {
	if signedIn {
		authSignedIn.Set(1)
		return
	}
	authSignedIn.Set(0)
}

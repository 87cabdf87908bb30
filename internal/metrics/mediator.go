// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MediatorRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxsync_mediator_requests_total",
		Help: "Requests seen by the network mediator by result",
	}, []string{"result"}) // result=hit|miss|bypass|fallback|oversize|error

	MediatorStoresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxsync_mediator_cache_stores_total",
		Help: "Responses written to the mediator cache",
	})

	mediatorGeneration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxsync_mediator_generation_info",
		Help: "Active cache generation (value is always 1)",
	}, []string{"generation"})
)

// IncMediator counts a mediator decision.
func IncMediator(result string) {
	MediatorRequestsTotal.WithLabelValues(result).Inc()
}

// IncMediatorStore counts one cache write.
func IncMediatorStore() {
	MediatorStoresTotal.Inc()
}

// SetMediatorGeneration exposes the active generation.
func SetMediatorGeneration(gen string) {
	mediatorGeneration.Reset()
	mediatorGeneration.WithLabelValues(gen).Set(1)
}

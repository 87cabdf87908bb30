// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordingsFinalizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxsync_recordings_finalized_total",
		Help: "Total number of recordings persisted after capture",
	})

	recordingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxsync_recordings_failed_total",
		Help: "Total number of capture attempts that produced no record, by stage",
	}, []string{"stage"}) // stage=acquire|capture|persist|unknown

	recordingBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxsync_recording_size_bytes",
		Help:    "Payload size of finalized recordings",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
	})

	recordingsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxsync_recordings_stored",
		Help: "Number of recordings currently held in the local store",
	})
)

// RecordFinalized counts a persisted recording of size bytes.
func RecordFinalized(size int64) {
	recordingsFinalizedTotal.Inc()
	recordingBytes.Observe(float64(size))
}

// IncRecordingFailed counts a failed capture attempt.
// Stage labels are normalized to cap cardinality.
func IncRecordingFailed(stage string) {
	recordingsFailedTotal.WithLabelValues(normalizeStage(stage)).Inc()
}

// SetRecordingsStored reports the size of the local list.
func SetRecordingsStored(n int) {
	recordingsStored.Set(float64(n))
}

func normalizeStage(stage string) string {
	switch s := strings.ToLower(strings.TrimSpace(stage)); s {
	case "acquire", "capture", "persist":
		return s
	default:
		return "unknown"
	}
}

var captureProcSignals = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "voxsync_capture_process_signals_total",
	Help: "Signals sent to capture helper process groups by outcome",
}, []string{"signal", "outcome"})

// IncProcSignal counts a signal delivered to a capture helper process group.
func IncProcSignal(signal, outcome string) {
	captureProcSignals.WithLabelValues(signal, outcome).Inc()
}

// Package metrics exposes Prometheus collectors for the canvas server.
// Served on GET /metrics by internal/server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EditsApplied counts accepted edit operations by kind ("draw", "fill").
	EditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosaic",
		Name:      "edits_applied_total",
		Help:      "Number of edit operations applied to the authoritative tile state.",
	}, []string{"kind"})

	// EditsRejected counts rejected operations by reason
	// ("unauthorized", "not_subscribed", "invalid").
	EditsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosaic",
		Name:      "edits_rejected_total",
		Help:      "Number of edit operations rejected before mutating any state.",
	}, []string{"reason"})

	// PixelsWritten counts individual pixel records written.
	PixelsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mosaic",
		Name:      "pixels_written_total",
		Help:      "Number of pixel records written, across all tiles.",
	})

	// SnapshotsSent counts init-canvas snapshot deliveries.
	SnapshotsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mosaic",
		Name:      "snapshots_sent_total",
		Help:      "Number of full tile snapshots sent to joining connections.",
	})

	// ActiveConnections tracks currently registered websocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mosaic",
		Name:      "active_connections",
		Help:      "Number of live websocket connections.",
	})

	// ResidentTiles tracks tiles currently held in memory.
	ResidentTiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mosaic",
		Name:      "resident_tiles",
		Help:      "Number of tiles resident in the in-memory store.",
	})

	// FlushFailures counts persistence write failures. Failed tiles stay
	// dirty and retry on the next flush cycle.
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mosaic",
		Name:      "flush_failures_total",
		Help:      "Number of failed tile persistence writes.",
	})

	// TilesEvicted counts tiles reclaimed by the idle sweep.
	TilesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mosaic",
		Name:      "tiles_evicted_total",
		Help:      "Number of tiles evicted from memory by the idle sweep.",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors, registered with the default registry through promauto.
// Every series carries the "engine" label (the engine instance id) so several
// engines in one process stay distinguishable.

var (
	// UniqueTableNodes tracks the number of live nodes in a unique table.
	UniqueTableNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kektordd_unique_table_nodes",
			Help: "Number of canonical nodes held by the unique table",
		},
		[]string{"engine"},
	)

	// CacheLookupsTotal counts operation-cache lookups by cache and result (hit/miss).
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektordd_cache_lookups_total",
			Help: "Operation cache lookups, labeled by cache name and result",
		},
		[]string{"engine", "cache", "result"},
	)

	// SweepsTotal counts garbage sweeps.
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektordd_sweeps_total",
			Help: "Number of unique-table garbage sweeps",
		},
		[]string{"engine"},
	)

	// NodesFreedTotal counts nodes reclaimed by sweeps.
	NodesFreedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektordd_nodes_freed_total",
			Help: "Number of nodes reclaimed by garbage sweeps",
		},
		[]string{"engine"},
	)

	// SweepDuration measures how long a sweep holds the engine exclusively.
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kektordd_sweep_duration_seconds",
			Help:    "Duration of unique-table garbage sweeps in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"engine"},
	)

	// ContractionDuration measures top-level contraction calls.
	ContractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "kektordd_contraction_duration_seconds",
			Help: "Duration of top-level contraction calls in seconds",
			// From sub-millisecond cache hits to multi-minute circuits
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"engine"},
	)

	// MemoryPressureTotal counts the times the memory monitor saw the threshold exceeded.
	MemoryPressureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kektordd_memory_pressure_events_total",
			Help: "Number of memory-threshold crossings observed during contraction",
		},
		[]string{"engine"},
	)
)

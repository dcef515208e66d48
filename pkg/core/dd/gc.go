package dd

import (
	"time"

	"github.com/sanonone/kektordd/pkg/metrics"
)

// SweepStats reports the outcome of a sweep.
type SweepStats struct {
	Live     int
	Freed    int
	Duration time.Duration
}

// Sweep frees every node not reachable from roots or from a retained node.
// It clears all memo tables and waits for in-flight operations to finish;
// no other operation on the engine runs while it is in progress.
//
// Node ids of surviving nodes are unchanged, so edges held by the caller
// stay valid as long as they are reachable from the roots.
func (e *Engine[W]) Sweep(roots ...Edge[W]) SweepStats {
	ids := make([]NodeID, len(roots))
	for i, r := range roots {
		ids[i] = r.Node
	}
	return e.sweep(ids, false)
}

// Collect sweeps with the retained nodes and roots as roots.
func (e *Engine[W]) Collect(roots ...Edge[W]) SweepStats {
	ids := make([]NodeID, len(roots))
	for i, r := range roots {
		ids[i] = r.Node
	}
	return e.sweep(ids, true)
}

func (e *Engine[W]) sweepRoots(extra []NodeID) SweepStats {
	return e.sweep(extra, true)
}

func (e *Engine[W]) sweep(roots []NodeID, withRetained bool) SweepStats {
	e.gate.Lock()
	defer e.gate.Unlock()

	start := time.Now()
	e.ClearCaches()

	if withRetained {
		roots = append(roots, e.retained()...)
	}

	// Phase 1: mark
	marked := newBitSet(uint32(e.nodes.capacity()))
	for _, id := range roots {
		e.mark(marked, id)
	}

	// Phase 2: free unmarked slots
	freed := e.nodes.retain(marked)

	// Phase 3: rebuild the unique table and the parent counts from survivors
	var live []*Node[W]
	e.table.reset()
	e.nodes.each(func(id NodeID, n *Node[W]) {
		e.table.putLocked(n.key, id)
		live = append(live, n)
	})
	e.mu.Lock()
	for id := range e.pins {
		if !marked.has(uint32(id)) {
			// Retained but outside the explicit root set
			delete(e.pins, id)
		}
	}
	for _, n := range live {
		n.refs.Store(0)
	}
	for id, c := range e.pins {
		e.nodes.get(id).refs.Add(int32(c))
	}
	e.mu.Unlock()
	for _, n := range live {
		for _, s := range n.Succ {
			if s.Node != Terminal {
				e.nodes.get(s.Node).refs.Add(1)
			}
		}
	}

	stats := SweepStats{Live: e.nodes.len(), Freed: freed, Duration: time.Since(start)}
	metrics.SweepsTotal.WithLabelValues(e.cfg.Name).Inc()
	metrics.NodesFreedTotal.WithLabelValues(e.cfg.Name).Add(float64(freed))
	metrics.SweepDuration.WithLabelValues(e.cfg.Name).Observe(stats.Duration.Seconds())
	e.setNodeGauge()
	e.logger.Info("sweep completed", "live", stats.Live, "freed", freed, "duration", stats.Duration)
	return stats
}

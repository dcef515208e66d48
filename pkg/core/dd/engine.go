// Package dd implements weighted decision diagrams for complex tensors.
//
// A diagram represents a tensor with one node per (index, sub-tensor) pair.
// Nodes are hash-consed in a per-engine unique table, so structurally equal
// sub-tensors (up to a scalar factor carried on the incoming edge) are stored
// once. Sums, partial traces and pairwise contractions are computed directly
// on diagrams and memoized.
//
// Engine is generic over the weight representation; see package weight.
package dd

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
	"github.com/sanonone/kektordd/pkg/metrics"
)

// DefaultEpsilon is the tolerance used for zero tests and key quantization.
const DefaultEpsilon = 1e-10

var (
	// ErrOutOfMemory is returned by a contraction when the process is still
	// above the memory threshold after the caches were cleared and swept.
	ErrOutOfMemory = errors.New("dd: out of memory")
	// ErrMemoryPressure is returned together with a valid result when the
	// memory threshold was crossed during a contraction. The caller should
	// retain the result and sweep; see Contractor.Relieve.
	ErrMemoryPressure = errors.New("dd: memory threshold crossed during contraction")
	// ErrParallelShapeChanged is returned when a contractor is reused with
	// operands whose parallel shapes differ from the pinned ones.
	ErrParallelShapeChanged = errors.New("dd: parallel shape changed since the contraction cache was filled")
)

// Config holds engine tuning parameters.
type Config struct {
	Epsilon float64
	Shards  int

	// GCPollPeriod is the interval of the memory monitor while a contraction
	// runs. MemoryThreshold is the process virtual memory size in bytes above
	// which caches are dropped; 0 disables the monitor.
	GCPollPeriod    time.Duration
	MemoryThreshold uint64

	// Name labels the engine's metrics series.
	Name   string
	Logger *slog.Logger
}

// Engine owns a node arena, its unique table and the memo tables of the
// single-type operations.
//
// All exported methods are safe for concurrent use. Sweep excludes every
// other operation for its duration.
type Engine[W any] struct {
	cfg    Config
	ops    weight.Ops[W]
	q      weight.Quantizer
	nodes  *arena[W]
	table  *uniqueTable
	logger *slog.Logger

	// gate: operations hold it shared, sweeps exclusively.
	gate sync.RWMutex

	sumCache   *opCache[string, Edge[W]]
	traceCache *opCache[string, Edge[W]]
	matCache   *opCache[string, *dense.Array]
	conjCache  *opCache[NodeID, Edge[W]]

	mu       sync.Mutex
	pins     map[NodeID]int
	external []clearer
}

// New creates an empty engine for the weight representation ops.
func New[W any](ops weight.Ops[W], cfg Config) *Engine[W] {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.GCPollPeriod <= 0 {
		cfg.GCPollPeriod = 250 * time.Millisecond
	}
	e := &Engine[W]{
		cfg:        cfg,
		ops:        ops,
		q:          weight.NewQuantizer(cfg.Epsilon),
		nodes:      newArena[W](),
		table:      newUniqueTable(cfg.Shards),
		logger:     cfg.Logger.With("component", "dd", "engine", cfg.Name),
		sumCache:   newOpCache[string, Edge[W]]("sum", cfg.Name),
		traceCache: newOpCache[string, Edge[W]]("trace", cfg.Name),
		matCache:   newOpCache[string, *dense.Array]("materialize", cfg.Name),
		conjCache:  newOpCache[NodeID, Edge[W]]("conj", cfg.Name),
		pins:       make(map[NodeID]int),
	}
	return e
}

// Ops returns the weight algebra of the engine.
func (e *Engine[W]) Ops() weight.Ops[W] { return e.ops }

// Epsilon returns the engine tolerance.
func (e *Engine[W]) Epsilon() float64 { return e.cfg.Epsilon }

// Node returns the node behind id, or nil for the terminal.
// The returned node must not be modified.
func (e *Engine[W]) Node(id NodeID) *Node[W] { return e.nodes.get(id) }

// order returns the branching index of id, terminalOrder for the terminal.
func (e *Engine[W]) order(id NodeID) int {
	if id == Terminal {
		return terminalOrder
	}
	return e.nodes.get(id).Order
}

// zero returns the canonical zero edge of the given parallel shape.
func (e *Engine[W]) zero(parallel []int) Edge[W] {
	return Edge[W]{W: e.ops.Zeros(parallel), Node: Terminal}
}

// Zero returns the zero tensor edge for the given parallel shape.
func (e *Engine[W]) Zero(parallel []int) Edge[W] { return e.zero(parallel) }

// One returns the terminal edge of unit weight (the all-ones tensor).
func (e *Engine[W]) One(parallel []int) Edge[W] {
	return Edge[W]{W: e.ops.Ones(parallel), Node: Terminal}
}

// edge builds an edge with weight w to id; exactly zero weights are
// redirected to the terminal.
func (e *Engine[W]) edge(w W, id NodeID) Edge[W] {
	if e.ops.IsExactZero(w) {
		return e.zero(e.ops.Shape(w))
	}
	return Edge[W]{W: w, Node: id}
}

// mulEdge multiplies the weight of x by w.
func (e *Engine[W]) mulEdge(w W, x Edge[W]) Edge[W] {
	return e.edge(e.ops.Mul(w, x.W), x.Node)
}

// child returns the successor of x for value v of index k. Edges that skip k
// are returned unchanged.
func (e *Engine[W]) child(x Edge[W], k, v int) Edge[W] {
	if x.Node == Terminal {
		return x
	}
	n := e.nodes.get(x.Node)
	if n.Order != k {
		return x
	}
	return e.mulEdge(x.W, n.Succ[v])
}

// EdgeEqual reports whether a and b point to the same node with weights
// equal within the engine tolerance.
func (e *Engine[W]) EdgeEqual(a, b Edge[W]) bool {
	return a.Node == b.Node && e.ops.Equal(a.W, b.W, e.cfg.Epsilon)
}

// register attaches an external memo table (a contractor cache) so that it
// is cleared together with the engine's own caches.
func (e *Engine[W]) register(c clearer) {
	e.mu.Lock()
	e.external = append(e.external, c)
	e.mu.Unlock()
}

func (e *Engine[W]) unregister(c clearer) {
	e.mu.Lock()
	e.external = slices.DeleteFunc(e.external, func(x clearer) bool { return x == c })
	e.mu.Unlock()
}

// ClearCaches drops every memo table that refers to the engine's nodes.
// It is safe while operations are in flight; they only lose memoized results.
func (e *Engine[W]) ClearCaches() {
	e.sumCache.clear()
	e.traceCache.clear()
	e.matCache.clear()
	e.conjCache.clear()
	e.mu.Lock()
	ext := append([]clearer(nil), e.external...)
	e.mu.Unlock()
	for _, c := range ext {
		c.clearCache()
	}
	e.logger.Debug("caches cleared")
}

// Retain records an external reference to the node of x. Retained nodes are
// the roots of Collect.
func (e *Engine[W]) Retain(x Edge[W]) {
	if x.Node == Terminal {
		return
	}
	e.gate.RLock()
	defer e.gate.RUnlock()
	e.mu.Lock()
	e.pins[x.Node]++
	e.mu.Unlock()
	e.nodes.get(x.Node).refs.Add(1)
}

// Release drops a reference taken by Retain.
func (e *Engine[W]) Release(x Edge[W]) {
	if x.Node == Terminal {
		return
	}
	e.gate.RLock()
	defer e.gate.RUnlock()
	e.mu.Lock()
	c, ok := e.pins[x.Node]
	switch {
	case !ok:
		e.mu.Unlock()
		return
	case c == 1:
		delete(e.pins, x.Node)
	default:
		e.pins[x.Node] = c - 1
	}
	e.mu.Unlock()
	e.nodes.get(x.Node).refs.Add(-1)
}

// retained returns the ids of every externally retained node.
func (e *Engine[W]) retained() []NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]NodeID, 0, len(e.pins))
	for id := range e.pins {
		ids = append(ids, id)
	}
	return ids
}

// Stats describes the state of an engine.
type Stats struct {
	Nodes    int
	Retained int
	Caches   []CacheStats
}

// Stats returns the node count and the size of every memo table.
func (e *Engine[W]) Stats() Stats {
	e.mu.Lock()
	retained := len(e.pins)
	ext := append([]clearer(nil), e.external...)
	e.mu.Unlock()

	s := Stats{
		Nodes:    e.nodes.len(),
		Retained: retained,
		Caches: []CacheStats{
			e.sumCache.stats(),
			e.traceCache.stats(),
			e.matCache.stats(),
			e.conjCache.stats(),
		},
	}
	for _, c := range ext {
		s.Caches = append(s.Caches, c.cacheStats())
	}
	return s
}

// Size returns the number of distinct nodes reachable from x.
func (e *Engine[W]) Size(x Edge[W]) int {
	e.gate.RLock()
	defer e.gate.RUnlock()

	seen := newBitSet(uint32(e.nodes.capacity()))
	return e.mark(seen, x.Node)
}

// mark adds every node reachable from id to seen and returns the number of
// newly marked nodes.
func (e *Engine[W]) mark(seen *bitSet, id NodeID) int {
	count := 0
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == Terminal || seen.has(uint32(cur)) {
			continue
		}
		seen.add(uint32(cur))
		count++
		for _, s := range e.nodes.get(cur).Succ {
			stack = append(stack, s.Node)
		}
	}
	return count
}

func (e *Engine[W]) setNodeGauge() {
	metrics.UniqueTableNodes.WithLabelValues(e.cfg.Name).Set(float64(e.nodes.len()))
}

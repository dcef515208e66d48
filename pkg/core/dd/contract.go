package dd

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/sanonone/kektordd/pkg/core/weight"
	"github.com/sanonone/kektordd/pkg/metrics"
)

// Contractor contracts diagrams of engine a with diagrams of engine b into
// engine c. It owns the product function that combines the two weight types
// and the memo table of the type pair.
//
// The memo table is only valid for one pair of operand parallel shapes: the
// first call pins them and later calls with different shapes fail with
// ErrParallelShapeChanged until ClearCache is called.
type Contractor[A, B, C any] struct {
	a *Engine[A]
	b *Engine[B]
	c *Engine[C]

	product weight.Product[A, B, C]
	threads int
	logger  *slog.Logger

	cache  *opCache[string, Edge[C]]
	flight singleflight.Group

	pinMu  sync.Mutex
	pinned bool
	pinA   []int
	pinB   []int
}

// NewContractor returns a contractor using up to threads goroutines per
// top-level call. threads < 1 is treated as 1.
func NewContractor[A, B, C any](a *Engine[A], b *Engine[B], c *Engine[C], product weight.Product[A, B, C], threads int) *Contractor[A, B, C] {
	x := &Contractor[A, B, C]{
		a:       a,
		b:       b,
		c:       c,
		product: product,
		threads: max(threads, 1),
		logger:  c.logger.With("component", "contractor"),
		cache:   newOpCache[string, Edge[C]]("contract", c.cfg.Name),
	}
	for _, m := range x.members() {
		m.register(x)
	}
	return x
}

// member is the type-erased view of an engine taking part in a contraction.
type member interface {
	ClearCaches()
	register(c clearer)
	unregister(c clearer)
	opGate() *sync.RWMutex
	sweepRoots(extra []NodeID) SweepStats
}

func (e *Engine[W]) opGate() *sync.RWMutex { return &e.gate }

// members returns the distinct engines of the contractor.
func (x *Contractor[A, B, C]) members() []member {
	out := []member{x.a}
	for _, m := range []member{x.b, x.c} {
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}

func (x *Contractor[A, B, C]) clearCache() { x.cache.clear() }

func (x *Contractor[A, B, C]) cacheStats() CacheStats { return x.cache.stats() }

// ClearCache drops the memo table and releases the pinned parallel shapes.
func (x *Contractor[A, B, C]) ClearCache() {
	x.pinMu.Lock()
	x.pinned = false
	x.pinA, x.pinB = nil, nil
	x.cache.clear()
	x.pinMu.Unlock()
}

// Close detaches the memo table from the member engines and drops it. The
// contractor must not be used afterwards.
func (x *Contractor[A, B, C]) Close() {
	for _, m := range x.members() {
		m.unregister(x)
	}
	x.ClearCache()
}

func (x *Contractor[A, B, C]) pin(pa, pb []int) error {
	x.pinMu.Lock()
	defer x.pinMu.Unlock()
	if !x.pinned {
		x.pinA, x.pinB = slices.Clone(pa), slices.Clone(pb)
		x.pinned = true
		return nil
	}
	if !slices.Equal(pa, x.pinA) || !slices.Equal(pb, x.pinB) {
		return fmt.Errorf("%w: have %v x %v, pinned %v x %v", ErrParallelShapeChanged, pa, pb, x.pinA, x.pinB)
	}
	return nil
}

// Contract contracts ea (index dimensions shapeA) with eb (shapeB) over
// pairs, where First indexes ea and Second indexes eb. The output indices
// follow layout; a nil layout selects DefaultLayout.
//
// When the memory threshold is crossed the caches of the member engines are
// dropped and the result is returned together with ErrMemoryPressure. No
// node is freed here: the caller retains the result and calls Relieve.
//
// The pairs and the layout are trusted; callers validate them beforehand.
func (x *Contractor[A, B, C]) Contract(ea Edge[A], eb Edge[B], shapeA, shapeB []int, pairs []IndexPair, layout Layout) (Edge[C], error) {
	start := time.Now()
	defer func() {
		metrics.ContractionDuration.WithLabelValues(x.c.cfg.Name).Observe(time.Since(start).Seconds())
	}()

	pa, pb := x.a.ops.Shape(ea.W), x.b.ops.Shape(eb.W)
	if err := x.pin(pa, pb); err != nil {
		return Edge[C]{}, err
	}
	if layout == nil {
		layout = DefaultLayout(len(shapeA), len(shapeB), pairs)
	}

	var mon *Monitor
	if x.c.cfg.MemoryThreshold > 0 {
		mon = x.monitor()
		mon.Start(func() {
			// Mid-flight calls only lose memoized results
			for _, m := range x.members() {
				m.ClearCaches()
			}
		})
	}

	r := x.run(ea, eb, shapeA, shapeB, pairs, layout, pa, pb)

	if mon != nil && mon.Stop() {
		return r, ErrMemoryPressure
	}
	return r, nil
}

func (x *Contractor[A, B, C]) monitor() *Monitor {
	return &Monitor{
		Period:    x.c.cfg.GCPollPeriod,
		Threshold: x.c.cfg.MemoryThreshold,
		Logger:    x.logger,
		Engine:    x.c.cfg.Name,
	}
}

// Relieve follows a contraction that reported ErrMemoryPressure. It sweeps
// the member engines, keeping the retained nodes and the given operands and
// result, and returns ErrOutOfMemory if the process is still above the
// threshold.
//
// Nodes built by concurrent operations and not yet retained are freed, so
// the caller must make sure none are in flight.
func (x *Contractor[A, B, C]) Relieve(ea Edge[A], eb Edge[B], r Edge[C]) error {
	for _, m := range x.members() {
		var extra []NodeID
		if m == member(x.a) {
			extra = append(extra, ea.Node)
		}
		if m == member(x.b) {
			extra = append(extra, eb.Node)
		}
		if m == member(x.c) {
			extra = append(extra, r.Node)
		}
		m.sweepRoots(extra)
	}
	return x.c.CheckMemory()
}

func (x *Contractor[A, B, C]) run(ea Edge[A], eb Edge[B], shapeA, shapeB []int, pairs []IndexPair, layout Layout, pa, pb []int) Edge[C] {
	ms := x.members()
	for _, m := range ms {
		m.opGate().RLock()
	}
	defer func() {
		for _, m := range ms {
			m.opGate().RUnlock()
		}
	}()

	call := &contraction[A, B, C]{
		x:     x,
		onesA: x.a.ops.Ones(pa),
		onesB: x.b.ops.Ones(pb),
		posA:  layout.positions(Left, len(shapeA)),
		posB:  layout.positions(Right, len(shapeB)),
		sem:   semaphore.NewWeighted(int64(x.threads - 1)),
	}
	call.unit = x.product(call.onesA, call.onesB)
	call.sufA = suffixKeys(call.posA)
	call.sufB = suffixKeys(call.posB)

	w := x.product(ea.W, eb.W)
	if x.c.ops.IsExactZero(w) {
		return x.c.zero(x.c.ops.Shape(w))
	}

	rem := make([]pendingPair, len(pairs))
	for i, p := range pairs {
		rem[i] = pendingPair{first: p.First, second: p.Second, dim: shapeA[p.First]}
	}
	slices.SortFunc(rem, func(a, b pendingPair) int { return a.first - b.first })

	return x.c.mulEdge(w, call.nodes(ea.Node, eb.Node, rem, nil, nil))
}

// contraction holds the per-call state of one top-level contraction.
type contraction[A, B, C any] struct {
	x *Contractor[A, B, C]

	onesA A
	onesB B
	unit  C

	posA, posB []int
	sufA, sufB []string

	sem *semaphore.Weighted
}

func position(pos []int, k int) int {
	if k >= len(pos) {
		return terminalOrder
	}
	return pos[k]
}

func suffix(keys []string, k int) string {
	return keys[min(k, len(keys)-1)]
}

// nodes returns the unit-weight contraction of the sub-diagrams na and nb
// under the bookkeeping state: rem holds pairs neither side has opened,
// aWait and bWait hold values fixed for indices the respective side has not
// reached yet.
func (c *contraction[A, B, C]) nodes(na, nb NodeID, rem []pendingPair, aWait, bWait []waitEntry) Edge[C] {
	x := c.x
	ka, kb := x.a.order(na), x.b.order(nb)

	for len(aWait) > 0 && aWait[0].index < ka {
		aWait = aWait[1:]
	}
	for len(bWait) > 0 && bWait[0].index < kb {
		bWait = bWait[1:]
	}
	scale := 1
	for i := 0; i < len(rem); {
		if rem[i].first < ka && rem[i].second < kb {
			scale *= rem[i].dim
			rem = removePair(rem, i)
			continue
		}
		i++
	}

	var r Edge[C]
	if na == Terminal && nb == Terminal {
		r = Edge[C]{W: c.unit, Node: Terminal}
	} else {
		key := c.key(na, nb, ka, kb, rem, aWait, bWait)
		r = c.memo(key, func() Edge[C] { return c.expand(na, nb, ka, kb, rem, aWait, bWait) })
	}
	if scale != 1 {
		r = x.c.edge(x.c.ops.Scale(r.W, complex(float64(scale), 0)), r.Node)
	}
	return r
}

// memo returns the cached result for key, computing it at most once across
// concurrent callers.
func (c *contraction[A, B, C]) memo(key string, compute func() Edge[C]) Edge[C] {
	x := c.x
	if r, ok := x.cache.get(key); ok {
		return r
	}
	v, _, _ := x.flight.Do(key, func() (any, error) {
		if r, ok := x.cache.get(key); ok {
			return r, nil
		}
		r := compute()
		x.cache.put(key, r)
		return r, nil
	})
	return v.(Edge[C])
}

func (c *contraction[A, B, C]) expand(na, nb NodeID, ka, kb int, rem []pendingPair, aWait, bWait []waitEntry) Edge[C] {
	x := c.x
	nodeA, nodeB := x.a.nodes.get(na), x.b.nodes.get(nb)

	// A value fixed by the other side is consumed first.
	if len(aWait) > 0 && aWait[0].index == ka {
		s := nodeA.Succ[aWait[0].value]
		return c.liftA(s.W, c.nodes(s.Node, nb, rem, aWait[1:], bWait))
	}
	if len(bWait) > 0 && bWait[0].index == kb {
		s := nodeB.Succ[bWait[0].value]
		return c.liftB(s.W, c.nodes(na, s.Node, rem, aWait, bWait[1:]))
	}

	// Then a pair one of whose indices is branched on right here.
	for i, p := range rem {
		switch {
		case p.first == ka:
			rest := removePair(rem, i)
			return c.sum(c.each(len(nodeA.Succ), func(v int) Edge[C] {
				s := nodeA.Succ[v]
				return c.liftA(s.W, c.nodes(s.Node, nb, rest, aWait, insertWait(bWait, p.second, v)))
			}))
		case p.second == kb:
			rest := removePair(rem, i)
			return c.sum(c.each(len(nodeB.Succ), func(v int) Edge[C] {
				s := nodeB.Succ[v]
				return c.liftB(s.W, c.nodes(na, s.Node, rest, insertWait(aWait, p.first, v), bWait))
			}))
		}
	}

	// Otherwise both current indices survive; branch on the one placed
	// first in the output.
	pa, pb := position(c.posA, ka), position(c.posB, kb)
	if pa < pb {
		succ := c.each(len(nodeA.Succ), func(v int) Edge[C] {
			s := nodeA.Succ[v]
			return c.liftA(s.W, c.nodes(s.Node, nb, rem, aWait, bWait))
		})
		return x.c.normalize(pa, succ)
	}
	succ := c.each(len(nodeB.Succ), func(v int) Edge[C] {
		s := nodeB.Succ[v]
		return c.liftB(s.W, c.nodes(na, s.Node, rem, aWait, bWait))
	})
	return x.c.normalize(pb, succ)
}

// each evaluates f for every value in [0, n). Values are handed to extra
// goroutines while the call's worker budget allows; the rest, and always
// the last one, run on the calling goroutine. f cannot fail, so the group
// is only used to join the workers.
func (c *contraction[A, B, C]) each(n int, f func(v int) Edge[C]) []Edge[C] {
	out := make([]Edge[C], n)
	var g errgroup.Group
	for v := range n {
		if v < n-1 && c.sem.TryAcquire(1) {
			g.Go(func() error {
				defer c.sem.Release(1)
				out[v] = f(v)
				return nil
			})
			continue
		}
		out[v] = f(v)
	}
	_ = g.Wait()
	return out
}

// sum folds branch results in value order through the sum engine, so the
// outcome does not depend on which goroutine finished first.
func (c *contraction[A, B, C]) sum(parts []Edge[C]) Edge[C] {
	acc := parts[0]
	for _, p := range parts[1:] {
		acc = c.x.c.sum(acc, p)
	}
	return acc
}

func (c *contraction[A, B, C]) liftA(w A, r Edge[C]) Edge[C] {
	return c.x.c.mulEdge(c.x.product(w, c.onesB), r)
}

func (c *contraction[A, B, C]) liftB(w B, r Edge[C]) Edge[C] {
	return c.x.c.mulEdge(c.x.product(c.onesA, w), r)
}

func (c *contraction[A, B, C]) key(na, nb NodeID, ka, kb int, rem []pendingPair, aWait, bWait []waitEntry) string {
	sa, sb := suffix(c.sufA, ka), suffix(c.sufB, kb)
	buf := make([]byte, 0, 16+4*len(rem)+2*(len(aWait)+len(bWait))+len(sa)+len(sb))
	buf = binary.AppendUvarint(buf, uint64(na))
	buf = binary.AppendUvarint(buf, uint64(nb))
	buf = appendPairs(buf, rem)
	buf = appendWaits(buf, aWait)
	buf = appendWaits(buf, bWait)
	buf = binary.AppendUvarint(buf, uint64(len(sa)))
	buf = append(buf, sa...)
	return string(append(buf, sb...))
}

package dd

import (
	"encoding/binary"
	"slices"
)

// Trace sums x over the diagonal of every pair of indices in pairs. shape
// gives the dimension of each index of x. The result keeps the surviving
// indices in their original relative order, renumbered from 0.
//
// Pairs must be disjoint and satisfy First < Second.
func (e *Engine[W]) Trace(x Edge[W], shape []int, pairs []IndexPair) Edge[W] {
	e.gate.RLock()
	defer e.gate.RUnlock()

	if len(pairs) == 0 {
		return x
	}
	rem := make([]pendingPair, len(pairs))
	for i, p := range pairs {
		rem[i] = pendingPair{first: p.First, second: p.Second, dim: shape[p.First]}
	}
	slices.SortFunc(rem, func(a, b pendingPair) int { return a.first - b.first })

	t := &tracer[W]{e: e, total: 2 * len(pairs), parallel: e.ops.Shape(x.W)}
	return e.mulEdge(x.W, t.node(x.Node, rem, nil))
}

type tracer[W any] struct {
	e        *Engine[W]
	total    int
	parallel []int
}

// node returns the unit-weight traced tensor of id under the bookkeeping
// state (rem, wait).
func (t *tracer[W]) node(id NodeID, rem []pendingPair, wait []waitEntry) Edge[W] {
	e := t.e
	k := e.order(id)

	// Entries whose index the path skipped are settled without branching:
	// a waiting value is free, a pair skipped on both sides counts its dim.
	scale := 1
	for len(wait) > 0 && wait[0].index < k {
		wait = wait[1:]
	}
	for i := 0; i < len(rem); {
		if rem[i].first < k && rem[i].second < k {
			scale *= rem[i].dim
			rem = removePair(rem, i)
			continue
		}
		i++
	}

	var r Edge[W]
	if id == Terminal {
		r = e.One(t.parallel)
	} else {
		key := t.key(id, rem, wait)
		var ok bool
		if r, ok = e.traceCache.get(key); !ok {
			r = t.expand(id, k, rem, wait)
			e.traceCache.put(key, r)
		}
	}
	if scale != 1 {
		r = e.edge(e.ops.Scale(r.W, complex(float64(scale), 0)), r.Node)
	}
	return r
}

func (t *tracer[W]) expand(id NodeID, k int, rem []pendingPair, wait []waitEntry) Edge[W] {
	e := t.e
	n := e.nodes.get(id)

	switch {
	case len(wait) > 0 && wait[0].index == k:
		s := n.Succ[wait[0].value]
		return e.mulEdge(s.W, t.node(s.Node, rem, wait[1:]))

	case len(rem) > 0 && rem[0].first < k:
		// The diagram skipped the first index of the pair: every value of
		// it is equally likely, the second index picks the diagonal.
		p, rest := rem[0], removePair(rem, 0)
		acc := e.zero(t.parallel)
		for v := 0; v < p.dim; v++ {
			acc = e.sum(acc, t.node(id, rest, insertWait(wait, p.second, v)))
		}
		return acc

	case len(rem) > 0 && rem[0].first == k:
		p, rest := rem[0], removePair(rem, 0)
		acc := e.zero(t.parallel)
		for v, s := range n.Succ {
			acc = e.sum(acc, e.mulEdge(s.W, t.node(s.Node, rest, insertWait(wait, p.second, v))))
		}
		return acc
	}

	succ := make([]Edge[W], len(n.Succ))
	for v, s := range n.Succ {
		succ[v] = e.mulEdge(s.W, t.node(s.Node, rem, wait))
	}
	closed := t.total - 2*len(rem) - len(wait)
	return e.normalize(k-closed, succ)
}

func (t *tracer[W]) key(id NodeID, rem []pendingPair, wait []waitEntry) string {
	buf := make([]byte, 0, 16+4*len(rem)+2*len(wait))
	buf = binary.AppendUvarint(buf, uint64(id))
	buf = binary.AppendUvarint(buf, uint64(t.total))
	buf = appendPairs(buf, rem)
	buf = appendWaits(buf, wait)
	return string(buf)
}

package dd

import "encoding/binary"

// Sum returns the edge of the element-wise sum of the tensors a and b.
// Both operands must describe tensors of the same shape.
func (e *Engine[W]) Sum(a, b Edge[W]) Edge[W] {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.sum(a, b)
}

// SumAll folds Sum over xs. It returns the zero edge of the given parallel
// shape for an empty list.
func (e *Engine[W]) SumAll(parallel []int, xs ...Edge[W]) Edge[W] {
	e.gate.RLock()
	defer e.gate.RUnlock()
	acc := e.zero(parallel)
	for _, x := range xs {
		acc = e.sum(acc, x)
	}
	return acc
}

func (e *Engine[W]) sum(a, b Edge[W]) Edge[W] {
	if e.ops.IsExactZero(a.W) {
		return b
	}
	if e.ops.IsExactZero(b.W) {
		return a
	}
	if a.Node == b.Node {
		return e.edge(e.ops.Add(a.W, b.W), a.Node)
	}

	// Factor out a common renormalizer so that the memoized sub-result is
	// shared by every pair of scalar multiples of the same operands.
	renorm := e.ops.Dominant([]W{a.W, b.W}, e.cfg.Epsilon)
	inv := e.ops.ReciprocalNonZero(renorm)
	a = Edge[W]{W: e.ops.Mul(a.W, inv), Node: a.Node}
	b = Edge[W]{W: e.ops.Mul(b.W, inv), Node: b.Node}
	if b.Node < a.Node {
		a, b = b, a
	}

	key := e.sumKey(a, b)
	if r, ok := e.sumCache.get(key); ok {
		return e.mulEdge(renorm, r)
	}

	k := min(e.order(a.Node), e.order(b.Node))
	var n int
	if a.Node != Terminal && e.order(a.Node) == k {
		n = len(e.nodes.get(a.Node).Succ)
	} else {
		n = len(e.nodes.get(b.Node).Succ)
	}
	succ := make([]Edge[W], n)
	for v := range succ {
		succ[v] = e.sum(e.child(a, k, v), e.child(b, k, v))
	}
	r := e.normalize(k, succ)
	e.sumCache.put(key, r)
	return e.mulEdge(renorm, r)
}

func (e *Engine[W]) sumKey(a, b Edge[W]) string {
	buf := make([]byte, 0, 48)
	buf = binary.AppendUvarint(buf, uint64(a.Node))
	buf = e.ops.AppendKey(buf, a.W, e.q)
	buf = binary.AppendUvarint(buf, uint64(b.Node))
	buf = e.ops.AppendKey(buf, b.W, e.q)
	return string(buf)
}

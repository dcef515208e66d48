package dd

// Scale multiplies the tensor of x by c.
func (e *Engine[W]) Scale(x Edge[W], c complex128) Edge[W] {
	return e.edge(e.ops.Scale(x.W, c), x.Node)
}

// Conj returns the element-wise complex conjugate of x.
func (e *Engine[W]) Conj(x Edge[W]) Edge[W] {
	e.gate.RLock()
	defer e.gate.RUnlock()
	return e.conj(x)
}

func (e *Engine[W]) conj(x Edge[W]) Edge[W] {
	w := e.ops.Conj(x.W)
	if x.Node == Terminal {
		return e.edge(w, Terminal)
	}
	return e.mulEdge(w, e.conjNode(x.Node))
}

func (e *Engine[W]) conjNode(id NodeID) Edge[W] {
	if r, ok := e.conjCache.get(id); ok {
		return r
	}
	n := e.nodes.get(id)
	succ := make([]Edge[W], len(n.Succ))
	for v, s := range n.Succ {
		succ[v] = e.conj(s)
	}
	r := e.normalize(n.Order, succ)
	e.conjCache.put(id, r)
	return r
}

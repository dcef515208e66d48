package dd

import "encoding/binary"

// normalize returns the canonical edge for a node branching on order with
// the given successors. It is the only place nodes are created.
//
// Steps: identical successors collapse to that successor; the dominant
// weight is factored out onto the returned edge (all-zero successors give
// the zero edge); successor weights that become negligible after division
// are redirected to the terminal; the node is looked up in or inserted into
// the unique table.
func (e *Engine[W]) normalize(order int, succ []Edge[W]) Edge[W] {
	same := true
	for _, s := range succ[1:] {
		if !e.EdgeEqual(s, succ[0]) {
			same = false
			break
		}
	}
	if same {
		return succ[0]
	}

	ws := make([]W, len(succ))
	for i, s := range succ {
		ws[i] = s.W
	}
	m := e.ops.Dominant(ws, e.cfg.Epsilon)
	if e.ops.IsExactZero(m) {
		return e.zero(e.ops.Shape(m))
	}
	inv := e.ops.ReciprocalNonZero(m)

	out := make([]Edge[W], len(succ))
	for i, s := range succ {
		w := e.ops.Mul(s.W, inv)
		if e.ops.IsZero(w, e.cfg.Epsilon) {
			out[i] = e.zero(e.ops.Shape(w))
			continue
		}
		out[i] = Edge[W]{W: w, Node: s.Node}
	}
	return Edge[W]{W: m, Node: e.findOrInsert(order, out)}
}

// nodeKey is the unique-table key of a node: its order followed by the
// (child id, quantized weight) pair of every successor.
func (e *Engine[W]) nodeKey(order int, succ []Edge[W]) string {
	buf := make([]byte, 0, 8+len(succ)*24)
	buf = binary.AppendUvarint(buf, uint64(order))
	buf = binary.AppendUvarint(buf, uint64(len(succ)))
	for _, s := range succ {
		buf = binary.AppendUvarint(buf, uint64(s.Node))
		buf = e.ops.AppendKey(buf, s.W, e.q)
	}
	return string(buf)
}

func (e *Engine[W]) findOrInsert(order int, succ []Edge[W]) NodeID {
	key := e.nodeKey(order, succ)
	sh := e.table.shard(key)

	sh.mu.RLock()
	id, ok := sh.m[key]
	sh.mu.RUnlock()
	if ok {
		return id
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	// Double-check: another goroutine may have inserted it meanwhile
	if id, ok := sh.m[key]; ok {
		return id
	}
	n := &Node[W]{Order: order, Succ: succ, key: key}
	id = e.nodes.alloc(n)
	for _, s := range succ {
		if s.Node != Terminal {
			e.nodes.get(s.Node).refs.Add(1)
		}
	}
	sh.m[key] = id
	e.setNodeGauge()
	return id
}

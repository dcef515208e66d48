package dd

import (
	"fmt"

	"github.com/sanonone/kektordd/pkg/core/dense"
)

// EdgeRecord is the flat form of an edge: the referenced node (by record id)
// and the weight components.
type EdgeRecord struct {
	Node NodeID
	W    []complex128
}

// NodeRecord is the flat form of a node.
type NodeRecord struct {
	ID    NodeID
	Order int
	Succ  []EdgeRecord
}

// Export flattens the diagram of x. Records are listed children first, so
// Import can rebuild them in a single pass.
func (e *Engine[W]) Export(x Edge[W]) (EdgeRecord, []NodeRecord) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	var out []NodeRecord
	seen := newBitSet(uint32(e.nodes.capacity()))
	var visit func(id NodeID)
	visit = func(id NodeID) {
		if id == Terminal || seen.has(uint32(id)) {
			return
		}
		seen.add(uint32(id))
		n := e.nodes.get(id)
		rec := NodeRecord{ID: id, Order: n.Order, Succ: make([]EdgeRecord, len(n.Succ))}
		for v, s := range n.Succ {
			visit(s.Node)
			rec.Succ[v] = EdgeRecord{Node: s.Node, W: e.ops.Flatten(s.W)}
		}
		out = append(out, rec)
	}
	visit(x.Node)
	return EdgeRecord{Node: x.Node, W: e.ops.Flatten(x.W)}, out
}

// Import rebuilds a diagram exported by Export (possibly from another
// engine). Every node is renormalized on the way in, so the result is
// canonical for this engine.
func (e *Engine[W]) Import(parallel []int, root EdgeRecord, nodes []NodeRecord) (Edge[W], error) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	size := dense.Shape(parallel).NumElements()
	built := make(map[NodeID]Edge[W], len(nodes))
	resolve := func(r EdgeRecord) (Edge[W], error) {
		if len(r.W) != size {
			return Edge[W]{}, fmt.Errorf("dd: weight has %d components, want %d", len(r.W), size)
		}
		w := e.ops.FromFlat(parallel, r.W)
		if r.Node == Terminal {
			return e.edge(w, Terminal), nil
		}
		sub, ok := built[r.Node]
		if !ok {
			return Edge[W]{}, fmt.Errorf("dd: record references unknown node %d", r.Node)
		}
		return e.mulEdge(w, sub), nil
	}
	for _, rec := range nodes {
		if len(rec.Succ) == 0 {
			return Edge[W]{}, fmt.Errorf("dd: node record %d has no successors", rec.ID)
		}
		succ := make([]Edge[W], len(rec.Succ))
		for v, s := range rec.Succ {
			x, err := resolve(s)
			if err != nil {
				return Edge[W]{}, err
			}
			succ[v] = x
		}
		built[rec.ID] = e.normalize(rec.Order, succ)
	}
	return resolve(root)
}

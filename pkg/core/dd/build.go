package dd

import (
	"encoding/binary"
	"fmt"

	"github.com/sanonone/kektordd/pkg/core/dense"
)

// FromArray builds the diagram of arr. The trailing parallelRank dimensions
// of arr form the parallel shape of the leaf weights; the remaining leading
// dimensions become the diagram's indices.
func (e *Engine[W]) FromArray(arr *dense.Array, parallelRank int) Edge[W] {
	e.gate.RLock()
	defer e.gate.RUnlock()

	shape := arr.Shape()
	n := len(shape) - parallelRank
	parallel := shape[n:].Clone()
	strides := shape.Strides()

	var build func(k, off int) Edge[W]
	build = func(k, off int) Edge[W] {
		if k == n {
			return e.edge(e.ops.FromFlat(parallel, arr.Leaf(off, parallelRank)), Terminal)
		}
		succ := make([]Edge[W], shape[k])
		for v := range succ {
			succ[v] = build(k+1, off+v*strides[k])
		}
		return e.normalize(k, succ)
	}
	return build(0, 0)
}

// ToArray materializes the tensor of x with index dimensions shape. The
// result has shape followed by the parallel shape of x's weight.
func (e *Engine[W]) ToArray(x Edge[W], shape []int) (*dense.Array, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	m := &materializer[W]{e: e, shape: shape, parallel: dense.Shape(e.ops.Shape(x.W)).Clone()}
	return m.edge(x, 0)
}

type materializer[W any] struct {
	e        *Engine[W]
	shape    dense.Shape
	parallel dense.Shape
}

// full returns the output shape of a sub-tensor starting at index k.
func (m *materializer[W]) full(k int) dense.Shape {
	return m.shape[k:].Concat(m.parallel)
}

func (m *materializer[W]) weight(w W) (*dense.Array, error) {
	return dense.New(dense.Shape(m.e.ops.Shape(w)).Clone(), m.e.ops.Flatten(w))
}

// edge materializes x as a tensor over the indices k.. of the shape.
func (m *materializer[W]) edge(x Edge[W], k int) (*dense.Array, error) {
	w, err := m.weight(x.W)
	if err != nil {
		return nil, err
	}
	if x.Node == Terminal {
		return w.Expand(m.full(k))
	}
	sub, err := m.node(x.Node)
	if err != nil {
		return nil, err
	}
	out, err := dense.Mul(sub, w)
	if err != nil {
		return nil, err
	}
	if m.e.order(x.Node) == k {
		return out, nil
	}
	return out.Expand(m.full(k))
}

// node materializes the unit-weight tensor of id over the indices from its
// order on. Results are memoized per node and index suffix and are never
// modified after being stored.
func (m *materializer[W]) node(id NodeID) (*dense.Array, error) {
	n := m.e.nodes.get(id)
	full := m.full(n.Order)
	key := matKey(id, full)
	if a, ok := m.e.matCache.get(key); ok {
		return a, nil
	}
	if len(n.Succ) != m.shape[n.Order] {
		return nil, fmt.Errorf("%w: node branches %d ways on index %d of size %d",
			dense.ErrShapeMismatch, len(n.Succ), n.Order, m.shape[n.Order])
	}

	out := dense.Zeros(full)
	data := out.Data()
	stride := len(data) / len(n.Succ)
	for v, s := range n.Succ {
		part, err := m.edge(s, n.Order+1)
		if err != nil {
			return nil, err
		}
		copy(data[v*stride:(v+1)*stride], part.Data())
	}
	m.e.matCache.put(key, out)
	return out, nil
}

func matKey(id NodeID, shape dense.Shape) string {
	buf := make([]byte, 0, 4+2*len(shape))
	buf = binary.AppendUvarint(buf, uint64(id))
	for _, d := range shape {
		buf = binary.AppendUvarint(buf, uint64(d))
	}
	return string(buf)
}

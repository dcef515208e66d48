package dd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
)

func TestFromArrayRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	shapes := [][]int{{}, {4}, {2, 3}, {2, 3, 2}, {2, 2, 2, 2}}
	for _, shape := range shapes {
		e := newScalarEngine(t)
		arr := randomArray(rng, shape...)
		x := e.FromArray(arr, 0)
		requireClose(t, arr, materialize(t, e, x, shape...))
	}
}

func TestFromArrayBatchRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	e := newBatchEngine(t)
	arr := randomArray(rng, 2, 3, 4)

	x := e.FromArray(arr, 1)
	assert.Equal(t, []int{4}, e.Ops().Shape(x.W))
	requireClose(t, arr, materialize(t, e, x, 2, 3))
}

func TestFromArraySharesScalarMultiples(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	e := newScalarEngine(t)
	arr := randomArray(rng, 2, 3, 2)

	a := e.FromArray(arr, 0)
	nodes := e.Stats().Nodes
	b := e.FromArray(arr.Clone().Scale(2), 0)

	assert.Equal(t, a.Node, b.Node)
	assert.InDelta(t, 0, real(b.W-2*a.W), tol)
	assert.InDelta(t, 0, imag(b.W-2*a.W), tol)
	assert.Equal(t, nodes, e.Stats().Nodes, "no new node for a scalar multiple")
}

func TestFromArrayZeroTensor(t *testing.T) {
	e := newScalarEngine(t)
	x := e.FromArray(dense.Zeros(dense.Shape{2, 2}), 0)

	assert.True(t, x.IsTerminal())
	assert.Equal(t, complex128(0), x.W)
	assert.Equal(t, 0, e.Stats().Nodes)
	requireClose(t, dense.Zeros(dense.Shape{2, 2}), materialize(t, e, x, 2, 2))
}

func TestFromArraySkipsConstantIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	e := newScalarEngine(t)
	arr := constantAlong(t, rng, []int{2, 4, 3}, 1)

	x := e.FromArray(arr, 0)
	for id := NodeID(1); id < e.nodes.capacity(); id++ {
		if n := e.Node(id); n != nil {
			assert.NotEqual(t, 1, n.Order, "index 1 is constant and must not be branched on")
		}
	}
	requireClose(t, arr, materialize(t, e, x, 2, 4, 3))
}

func TestNormalizedWeightsAreBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	e := newScalarEngine(t)
	e.FromArray(randomArray(rng, 3, 3, 3), 0)

	e.nodes.each(func(_ NodeID, n *Node[complex128]) {
		one := false
		for _, s := range n.Succ {
			mag := real(s.W)*real(s.W) + imag(s.W)*imag(s.W)
			assert.LessOrEqual(t, mag, 1+1e-9)
			if mag > 1-1e-9 {
				one = true
			}
		}
		assert.True(t, one, "every node has a successor of unit magnitude")
	})
}

func TestIdentityPlusIdentity(t *testing.T) {
	e := newScalarEngine(t)
	id := dense.MustNew(dense.Shape{2, 2}, []complex128{1, 0, 0, 1})
	x := e.FromArray(id, 0)

	sum := e.Sum(x, x)

	assert.Equal(t, complex128(2), sum.W)
	root := e.Node(sum.Node)
	require.NotNil(t, root)
	require.Len(t, root.Succ, 2)
	for row, s := range root.Succ {
		assert.Equal(t, complex128(1), s.W)
		n := e.Node(s.Node)
		require.NotNil(t, n)
		for col, leaf := range n.Succ {
			assert.True(t, leaf.IsTerminal())
			if row == col {
				assert.Equal(t, complex128(1), leaf.W)
			} else {
				assert.Equal(t, complex128(0), leaf.W)
			}
		}
	}
	requireClose(t, dense.MustNew(dense.Shape{2, 2}, []complex128{2, 0, 0, 2}), materialize(t, e, sum, 2, 2))
}

func TestToArrayRejectsWrongShape(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	e := newScalarEngine(t)
	x := e.FromArray(randomArray(rng, 2, 3), 0)

	_, err := e.ToArray(x, []int{2, 4})
	require.ErrorIs(t, err, dense.ErrShapeMismatch)
}

func TestBatchWeightsBroadcastAtLeaves(t *testing.T) {
	e := New[weight.Batch](weight.Batched{}, Config{Name: t.Name()})
	// Same leaf vector in every position: the whole diagram is one terminal edge.
	arr, err := dense.MustNew(dense.Shape{1, 1, 3}, []complex128{1, 2, 3}).Expand(dense.Shape{2, 2, 3})
	require.NoError(t, err)

	x := e.FromArray(arr, 1)
	assert.True(t, x.IsTerminal())
	requireClose(t, arr, materialize(t, e, x, 2, 2))
}

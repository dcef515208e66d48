package dd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektordd/pkg/core/dense"
)

func tracePairs(pairs []IndexPair) [][2]int {
	out := make([][2]int, len(pairs))
	for i, p := range pairs {
		out[i] = [2]int{p.First, p.Second}
	}
	return out
}

func survivingShape(shape []int, pairs []IndexPair) []int {
	closed := make(map[int]bool)
	for _, p := range pairs {
		closed[p.First], closed[p.Second] = true, true
	}
	var out []int
	for i, d := range shape {
		if !closed[i] {
			out = append(out, d)
		}
	}
	return out
}

func TestTraceMatchesDense(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	tests := []struct {
		name  string
		arr   *dense.Array
		pairs []IndexPair
	}{
		{"matrix", randomArray(rng, 3, 3), []IndexPair{{0, 1}}},
		{"outer pair", randomArray(rng, 2, 3, 2, 3), []IndexPair{{0, 2}}},
		{"two pairs", randomArray(rng, 2, 3, 2, 3), []IndexPair{{0, 2}, {1, 3}}},
		{"nested pairs", randomArray(rng, 3, 2, 2, 3), []IndexPair{{0, 3}, {1, 2}}},
		{"first index skipped", constantAlong(t, rng, []int{3, 2, 3}, 0), []IndexPair{{0, 2}}},
		{"second index skipped", constantAlong(t, rng, []int{3, 2, 3}, 2), []IndexPair{{0, 2}}},
		{"both skipped", constantAlong(t, rng, []int{3, 2, 3}, 0, 2), []IndexPair{{0, 2}}},
		{"survivor between", randomArray(rng, 2, 2, 2, 2, 2), []IndexPair{{1, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newScalarEngine(t)
			shape := tt.arr.Shape()
			got := e.Trace(e.FromArray(tt.arr, 0), shape, tt.pairs)

			want, err := dense.Trace(tt.arr, tracePairs(tt.pairs))
			require.NoError(t, err)
			requireClose(t, want, materialize(t, e, got, survivingShape(shape, tt.pairs)...))
		})
	}
}

func TestTraceOfConstantScalesByDimension(t *testing.T) {
	e := newScalarEngine(t)
	ones := e.FromArray(dense.Full(dense.Shape{3, 3}, 1), 0)
	require.True(t, ones.IsTerminal())

	got := e.Trace(ones, []int{3, 3}, []IndexPair{{0, 1}})
	assert.True(t, got.IsTerminal())
	assert.InDelta(t, 3, real(got.W), tol)
}

func TestTraceRenumbersSurvivors(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	e := newScalarEngine(t)
	arr := randomArray(rng, 2, 2, 3, 2)

	got := e.Trace(e.FromArray(arr, 0), arr.Shape(), []IndexPair{{0, 3}})
	seen := newBitSet(uint32(e.nodes.capacity()))
	e.mark(seen, got.Node)
	for id := NodeID(1); id < e.nodes.capacity(); id++ {
		if seen.has(uint32(id)) {
			assert.Less(t, e.Node(id).Order, 2, "surviving indices are renumbered from 0")
		}
	}
}

func TestTraceBatched(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	e := newBatchEngine(t)
	arr := randomArray(rng, 3, 2, 3, 2)

	got := e.Trace(e.FromArray(arr, 1), []int{3, 2, 3}, []IndexPair{{0, 2}})

	want, err := dense.Trace(arr, [][2]int{{0, 2}})
	require.NoError(t, err)
	requireClose(t, want, materialize(t, e, got, 2))
}

package weight

import (
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchedMulBroadcasts(t *testing.T) {
	ops := Batched{}
	a := NewBatch([]int{2, 1}, []complex128{1, 2})
	b := NewBatch([]int{3}, []complex128{1, 10, 100})

	got := ops.Mul(a, b)
	assert.Equal(t, []int{2, 3}, ops.Shape(got))
	assert.Equal(t, []complex128{1, 10, 100, 2, 20, 200}, got.Data)
}

func TestBatchedAdd(t *testing.T) {
	ops := Batched{}
	a := NewBatch([]int{2}, []complex128{1, 2})
	assert.Equal(t, []complex128{2, 4}, ops.Add(a, a).Data)

	s := NewBatch([]int{1}, []complex128{1i})
	assert.Equal(t, []complex128{1 + 1i, 2 + 1i}, ops.Add(a, s).Data)
}

func TestBatchedDominantIsElementWise(t *testing.T) {
	ops := Batched{}
	ws := []Batch{
		NewBatch([]int{3}, []complex128{1, 0, -3}),
		NewBatch([]int{3}, []complex128{-2, 0, 3}),
	}
	got := ops.Dominant(ws, 1e-10)
	assert.Equal(t, []complex128{-2, 0, -3}, got.Data)
	inv := ops.ReciprocalNonZero(got).Data
	for i, want := range []complex128{-0.5, 1, -1.0 / 3} {
		assert.InDelta(t, 0, cmplx.Abs(inv[i]-want), 1e-15)
	}
}

func TestBatchedZeroTests(t *testing.T) {
	ops := Batched{}
	assert.True(t, ops.IsExactZero(ops.Zeros([]int{2, 2})))
	assert.False(t, ops.IsExactZero(NewBatch([]int{2}, []complex128{0, 1e-300})))
	assert.True(t, ops.IsZero(NewBatch([]int{2}, []complex128{0, 1e-12}), 1e-10))
	assert.False(t, ops.Equal(ops.Ones([]int{2}), ops.Ones([]int{1, 2}), 1e-10))
}

func TestBatchedExpand(t *testing.T) {
	ops := Batched{}
	w := NewBatch([]int{2}, []complex128{1, 2})

	front := ops.ExpandFront(w, []int{3})
	assert.Equal(t, []int{3, 2}, ops.Shape(front))
	assert.Equal(t, []complex128{1, 2, 1, 2, 1, 2}, front.Data)

	back := ops.ExpandBack(w, []int{3})
	assert.Equal(t, []int{2, 3}, ops.Shape(back))
	assert.Equal(t, []complex128{1, 1, 1, 2, 2, 2}, back.Data)
}

func TestBatchedKeysIncludeShape(t *testing.T) {
	ops, q := Batched{}, NewQuantizer(1e-10)
	assert.NotEqual(t, Key[Batch](ops, ops.Ones([]int{4}), q), Key[Batch](ops, ops.Ones([]int{2, 2}), q))
	assert.Equal(t, Key[Batch](ops, ops.Ones([]int{4}), q), Key[Batch](ops, ops.Ones([]int{4}), q))
}

func TestBatchProductModes(t *testing.T) {
	a := NewBatch([]int{2}, []complex128{1, 2})
	b := NewBatch([]int{3}, []complex128{1, 10, 100})

	outer := BatchProduct(Outer)(a, b)
	assert.Equal(t, []int{2, 3}, Batched{}.Shape(outer))
	assert.Equal(t, []complex128{1, 10, 100, 2, 20, 200}, outer.Data)
	assert.Equal(t, []int{2, 3}, ProductShape([]int{2}, []int{3}, Outer))

	c := NewBatch([]int{2}, []complex128{3, 4})
	shared := BatchProduct(Shared)(a, c)
	assert.Equal(t, []complex128{3, 8}, shared.Data)
	assert.Equal(t, []int{2}, ProductShape([]int{2}, []int{2}, Shared))
}

func TestMixedProducts(t *testing.T) {
	b := NewBatch([]int{2}, []complex128{1, 2})

	sb, err := ScalarBatchProduct(Outer)
	require.NoError(t, err)
	assert.Equal(t, []complex128{2i, 4i}, sb(2i, b).Data)

	bs, err := BatchScalarProduct(Outer)
	require.NoError(t, err)
	assert.Equal(t, []complex128{3, 6}, bs(b, 3).Data)

	_, err = ScalarBatchProduct(Shared)
	require.ErrorIs(t, err, ErrUnsupportedCombination)
	_, err = BatchScalarProduct(Shared)
	require.ErrorIs(t, err, ErrUnsupportedCombination)
}

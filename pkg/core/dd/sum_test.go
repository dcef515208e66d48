package dd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektordd/pkg/core/dense"
)

func TestSumMatchesDense(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	tests := []struct {
		name string
		a, b *dense.Array
	}{
		{"random", randomArray(rng, 2, 3, 2), randomArray(rng, 2, 3, 2)},
		{"constant axes", constantAlong(t, rng, []int{2, 3, 2}, 0), constantAlong(t, rng, []int{2, 3, 2}, 1, 2)},
		{"vectors", randomArray(rng, 5), randomArray(rng, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newScalarEngine(t)
			shape := tt.a.Shape()
			got := e.Sum(e.FromArray(tt.a, 0), e.FromArray(tt.b, 0))

			want, err := dense.Add(tt.a, tt.b)
			require.NoError(t, err)
			requireClose(t, want, materialize(t, e, got, shape...))
		})
	}
}

func TestSumAlgebra(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	e := newScalarEngine(t)
	shape := []int{2, 2, 3}
	a := e.FromArray(randomArray(rng, shape...), 0)
	b := e.FromArray(randomArray(rng, shape...), 0)
	c := e.FromArray(randomArray(rng, shape...), 0)

	t.Run("commutative", func(t *testing.T) {
		assert.True(t, e.EdgeEqual(e.Sum(a, b), e.Sum(b, a)))
	})
	t.Run("associative", func(t *testing.T) {
		left := e.Sum(e.Sum(a, b), c)
		right := e.Sum(a, e.Sum(b, c))
		requireClose(t, materialize(t, e, left, shape...), materialize(t, e, right, shape...))
	})
	t.Run("zero identity", func(t *testing.T) {
		assert.Equal(t, a, e.Sum(a, e.Zero(nil)))
		assert.Equal(t, a, e.Sum(e.Zero(nil), a))
	})
	t.Run("inverse", func(t *testing.T) {
		z := e.Sum(a, e.Scale(a, -1))
		assert.True(t, z.IsTerminal())
		assert.Equal(t, complex128(0), z.W)
	})
}

func TestSumReusesCacheForScalarMultiples(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	e := newScalarEngine(t)
	a := e.FromArray(randomArray(rng, 3, 3), 0)
	b := e.FromArray(randomArray(rng, 3, 3), 0)

	first := e.Sum(a, b)
	before := e.sumCache.stats()
	scaled := e.Sum(e.Scale(a, 3i), e.Scale(b, 3i))
	after := e.sumCache.stats()

	assert.Equal(t, before.Entries, after.Entries, "scaled operands hit the renormalized entry")
	requireClose(t, materialize(t, e, first, 3, 3).Scale(3i), materialize(t, e, scaled, 3, 3))
}

func TestSumAllOfNothingIsZero(t *testing.T) {
	e := newScalarEngine(t)
	z := e.SumAll(nil)
	assert.True(t, z.IsTerminal())
	assert.Equal(t, complex128(0), z.W)
}

func TestSumBatched(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	e := newBatchEngine(t)
	a, b := randomArray(rng, 2, 3, 2), randomArray(rng, 2, 3, 2)

	got := e.Sum(e.FromArray(a, 1), e.FromArray(b, 1))

	want, err := dense.Add(a, b)
	require.NoError(t, err)
	requireClose(t, want, materialize(t, e, got, 2, 3))
}

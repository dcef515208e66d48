package dd

import (
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
)

const tol = 1e-8

func newScalarEngine(t testing.TB) *Engine[complex128] {
	return New[complex128](weight.Scalar{}, Config{Name: t.Name()})
}

func newBatchEngine(t testing.TB) *Engine[weight.Batch] {
	return New[weight.Batch](weight.Batched{}, Config{Name: t.Name()})
}

func randomArray(rng *rand.Rand, shape ...int) *dense.Array {
	s := dense.Shape(shape)
	data := make([]complex128, s.NumElements())
	for i := range data {
		data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return dense.MustNew(s, data)
}

// constantAlong returns a random array of the given shape whose values do
// not depend on the listed axes.
func constantAlong(t testing.TB, rng *rand.Rand, shape []int, axes ...int) *dense.Array {
	base := append([]int(nil), shape...)
	for _, ax := range axes {
		base[ax] = 1
	}
	out, err := randomArray(rng, base...).Expand(shape)
	require.NoError(t, err)
	return out
}

func materialize[W any](t testing.TB, e *Engine[W], x Edge[W], shape ...int) *dense.Array {
	t.Helper()
	out, err := e.ToArray(x, shape)
	require.NoError(t, err)
	return out
}

func requireClose(t testing.TB, want, got *dense.Array) {
	t.Helper()
	require.Truef(t, want.Shape().Equal(got.Shape()), "shape: want %v, got %v", want.Shape(), got.Shape())
	require.Truef(t, dense.AllClose(want, got, tol), "want\n%v\ngot\n%v", want, got)
}

func cmplxAbs(v complex128) float64 { return cmplx.Abs(v) }

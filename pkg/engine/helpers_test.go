package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sanonone/kektordd/pkg/core/dense"
)

const tol = 1e-8

func openTest(t testing.TB) *Engine {
	t.Helper()
	opts := DefaultOptions()
	opts.Threads = 4
	opts.MemoryThreshold = 0
	e, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func randomArray(rng *rand.Rand, shape ...int) *dense.Array {
	s := dense.Shape(shape)
	data := make([]complex128, s.NumElements())
	for i := range data {
		data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	return dense.MustNew(s, data)
}

func requireClose(t testing.TB, want, got *dense.Array) {
	t.Helper()
	require.Truef(t, want.Shape().Equal(got.Shape()), "shape: want %v, got %v", want.Shape(), got.Shape())
	require.Truef(t, dense.AllClose(want, got, tol), "want\n%v\ngot\n%v", want, got)
}

func toArray[W any](t testing.TB, d *Diagram[W]) *dense.Array {
	t.Helper()
	out, err := d.ToArray()
	require.NoError(t, err)
	return out
}

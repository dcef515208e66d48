package dense

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/gonum"
)

var zblas = gonum.Implementation{}

// Tensordot contracts a and b over the axis pairs (axis of a, axis of b), with the
// NumPy tensordot output layout: the surviving axes of a followed by the surviving
// axes of b.
func Tensordot(a, b *Array, pairs [][2]int) (*Array, error) {
	inA := make([]bool, a.Rank())
	inB := make([]bool, b.Rank())
	contrA := make([]int, 0, len(pairs))
	contrB := make([]int, 0, len(pairs))
	k := 1
	for _, p := range pairs {
		if p[0] < 0 || p[0] >= a.Rank() || p[1] < 0 || p[1] >= b.Rank() || inA[p[0]] || inB[p[1]] {
			return nil, fmt.Errorf("%w: invalid axis pair %v", ErrShapeMismatch, p)
		}
		if a.shape[p[0]] != b.shape[p[1]] {
			return nil, fmt.Errorf("%w: axis %d of a has size %d, axis %d of b has size %d",
				ErrShapeMismatch, p[0], a.shape[p[0]], p[1], b.shape[p[1]])
		}
		inA[p[0]], inB[p[1]] = true, true
		contrA = append(contrA, p[0])
		contrB = append(contrB, p[1])
		k *= a.shape[p[0]]
	}

	var survA, survB []int
	var outShape Shape
	m, n := 1, 1
	for i, dim := range a.shape {
		if !inA[i] {
			survA = append(survA, i)
			outShape = append(outShape, dim)
			m *= dim
		}
	}
	for i, dim := range b.shape {
		if !inB[i] {
			survB = append(survB, i)
			outShape = append(outShape, dim)
			n *= dim
		}
	}

	at, err := a.Transpose(append(append([]int{}, survA...), contrA...))
	if err != nil {
		return nil, err
	}
	bt, err := b.Transpose(append(append([]int{}, contrB...), survB...))
	if err != nil {
		return nil, err
	}

	out := make([]complex128, m*n)
	zblas.Zgemm(blas.NoTrans, blas.NoTrans, m, n, k, 1, at.data, k, bt.data, n, 0, out, n)
	return &Array{shape: outShape, data: out}, nil
}

// Trace sums a over the diagonals of the given axis pairs. The result keeps the
// remaining axes in their original order.
func Trace(a *Array, pairs [][2]int) (*Array, error) {
	closed := make([]bool, a.Rank())
	for _, p := range pairs {
		if p[0] == p[1] || closed[p[0]] || closed[p[1]] {
			return nil, fmt.Errorf("%w: invalid axis pair %v", ErrShapeMismatch, p)
		}
		if a.shape[p[0]] != a.shape[p[1]] {
			return nil, fmt.Errorf("%w: traced axes %v have sizes %d and %d",
				ErrShapeMismatch, p, a.shape[p[0]], a.shape[p[1]])
		}
		closed[p[0]], closed[p[1]] = true, true
	}
	var outShape Shape
	for i, dim := range a.shape {
		if !closed[i] {
			outShape = append(outShape, dim)
		}
	}
	out := Zeros(outShape)
	outStrides := outShape.Strides()
	coords := make([]int, a.Rank())
	for flat, v := range a.data {
		rem := flat
		for i := a.Rank() - 1; i >= 0; i-- {
			coords[i] = rem % a.shape[i]
			rem /= a.shape[i]
		}
		diagonal := true
		for _, p := range pairs {
			if coords[p[0]] != coords[p[1]] {
				diagonal = false
				break
			}
		}
		if !diagonal {
			continue
		}
		off, j := 0, 0
		for i, c := range coords {
			if closed[i] {
				continue
			}
			off += c * outStrides[j]
			j++
		}
		out.data[off] += v
	}
	return out, nil
}

package dense

import (
	"fmt"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/cmplxs"
)

// Array is a row-major multi-dimensional array of complex values.
type Array struct {
	shape Shape
	data  []complex128
}

// New wraps data as an array of the given shape. The slice is not copied.
func New(shape Shape, data []complex128) (*Array, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("%w: shape %v requires %d elements, but got %d",
			ErrShapeMismatch, shape, shape.NumElements(), len(data))
	}
	return &Array{shape: shape.Clone(), data: data}, nil
}

// MustNew is like New but panics on error. Intended for tests and literals.
func MustNew(shape Shape, data []complex128) *Array {
	a, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return a
}

// Zeros returns a zero-filled array.
func Zeros(shape Shape) *Array {
	return &Array{shape: shape.Clone(), data: make([]complex128, shape.NumElements())}
}

// Full returns an array with every element set to v.
func Full(shape Shape, v complex128) *Array {
	a := Zeros(shape)
	for i := range a.data {
		a.data[i] = v
	}
	return a
}

// Shape returns the array's shape.
func (a *Array) Shape() Shape { return a.shape }

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return len(a.shape) }

// Data returns the underlying storage.
func (a *Array) Data() []complex128 { return a.data }

// Offset returns the flat offset of the given leading coordinates.
// Coordinates not supplied are taken as 0.
func (a *Array) Offset(coords ...int) int {
	strides := a.shape.Strides()
	off := 0
	for i, c := range coords {
		off += c * strides[i]
	}
	return off
}

// At returns the element at the given coordinates.
func (a *Array) At(coords ...int) complex128 {
	return a.data[a.Offset(coords...)]
}

// Set stores v at the given coordinates.
func (a *Array) Set(v complex128, coords ...int) {
	a.data[a.Offset(coords...)] = v
}

// Leaf extracts the value reached after fixing the first len(a.Shape())-parallelRank
// coordinates, starting at flat offset off. It is the leaf-value primitive used when a
// diagram is built: with parallelRank == 0 the result has a single element.
func (a *Array) Leaf(off, parallelRank int) []complex128 {
	n := a.shape[len(a.shape)-parallelRank:].NumElements()
	out := make([]complex128, n)
	copy(out, a.data[off:off+n])
	return out
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	data := make([]complex128, len(a.data))
	copy(data, a.data)
	return &Array{shape: a.shape.Clone(), data: data}
}

// Scale multiplies every element by c in place and returns a.
func (a *Array) Scale(c complex128) *Array {
	cmplxs.Scale(c, a.data)
	return a
}

// Conj returns the element-wise complex conjugate as a new array.
func (a *Array) Conj() *Array {
	out := a.Clone()
	for i, v := range out.data {
		out.data[i] = cmplx.Conj(v)
	}
	return out
}

// Add returns a + b with NumPy broadcasting.
func Add(a, b *Array) (*Array, error) {
	shape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	out := Zeros(shape)
	for i := range out.data {
		out.data[i] = a.data[broadcastIndex(i, shape, a.shape)] + b.data[broadcastIndex(i, shape, b.shape)]
	}
	return out, nil
}

// Mul returns the element-wise product a * b with NumPy broadcasting.
func Mul(a, b *Array) (*Array, error) {
	shape, err := BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return nil, err
	}
	if a.shape.Equal(b.shape) {
		return &Array{shape: shape, data: cmplxs.MulTo(make([]complex128, len(a.data)), a.data, b.data)}, nil
	}
	out := Zeros(shape)
	for i := range out.data {
		out.data[i] = a.data[broadcastIndex(i, shape, a.shape)] * b.data[broadcastIndex(i, shape, b.shape)]
	}
	return out, nil
}

// Expand broadcasts a to the given shape, which must be broadcast-compatible with it.
func (a *Array) Expand(shape Shape) (*Array, error) {
	bs, err := BroadcastShapes(a.shape, shape)
	if err != nil {
		return nil, err
	}
	if !bs.Equal(shape) {
		return nil, fmt.Errorf("%w: cannot expand %v to %v", ErrShapeMismatch, a.shape, shape)
	}
	out := Zeros(shape)
	for i := range out.data {
		out.data[i] = a.data[broadcastIndex(i, shape, a.shape)]
	}
	return out, nil
}

// Transpose returns a copy of a with its axes permuted: axis i of the result is
// axis perm[i] of a.
func (a *Array) Transpose(perm []int) (*Array, error) {
	if len(perm) != len(a.shape) {
		return nil, fmt.Errorf("%w: permutation %v for rank %d", ErrShapeMismatch, perm, len(a.shape))
	}
	shape := make(Shape, len(perm))
	for i, p := range perm {
		shape[i] = a.shape[p]
	}
	out := Zeros(shape)
	src := a.shape.Strides()
	coords := make([]int, len(shape))
	for flat := range out.data {
		rem := flat
		for i := len(shape) - 1; i >= 0; i-- {
			coords[i] = rem % shape[i]
			rem /= shape[i]
		}
		off := 0
		for i, p := range perm {
			off += coords[i] * src[p]
		}
		out.data[flat] = a.data[off]
	}
	return out, nil
}

// AllClose reports whether a and b have equal shapes and all elements agree within tol
// (absolute or relative).
func AllClose(a, b *Array, tol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	return cmplxs.EqualApprox(a.data, b.data, tol)
}

// String renders the array for debugging.
func (a *Array) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Array%v[", []int(a.shape))
	for i, v := range a.data {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("]")
	return sb.String()
}

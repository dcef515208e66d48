// Package weight defines the algebra of edge weights used by the decision-diagram
// engine.
//
// The engine is written once against the Ops capability interface. Two
// representations implement it: Scalar weights (a single complex128) and Batch
// weights (a complex array sharing one "parallel" batch shape across a diagram).
// Both satisfy identical contracts, so every algorithm in package dd works for
// either of them.
package weight

import "errors"

// ErrUnsupportedCombination is returned when two weight representations cannot be
// combined in the requested way, e.g. contracting a scalar diagram with a batched
// one while sharing the parallel dimensions.
var ErrUnsupportedCombination = errors.New("weight: unsupported combination")

// Ops is the capability set the engine needs from a weight type W.
//
// Implementations must be stateless and safe for concurrent use. Weights are
// treated as immutable values: no method may modify its arguments.
type Ops[W any] interface {
	// Ones returns the multiplicative identity for the given parallel shape.
	Ones(parallel []int) W
	// Zeros returns the additive identity for the given parallel shape.
	Zeros(parallel []int) W
	// Shape returns the parallel shape of w (nil for scalars).
	Shape(w W) []int

	Mul(a, b W) W
	Add(a, b W) W
	Scale(w W, c complex128) W
	Conj(w W) W

	// IsExactZero reports whether every component of w is exactly zero.
	IsExactZero(w W) bool
	// IsZero reports whether every component of w is within eps of zero.
	IsZero(w W, eps float64) bool
	// ReciprocalNonZero returns 1/w, mapping exactly-zero components to 1.
	ReciprocalNonZero(w W) W
	// Dominant returns the renormalization coefficient of ws: the candidate of
	// maximal magnitude, where a later candidate c only replaces the current
	// maximum m when |c|-|m| > eps*|c|. Batched weights are compared per element.
	Dominant(ws []W, eps float64) W
	// Equal reports whether a and b agree within eps.
	Equal(a, b W, eps float64) bool
	// AppendKey appends the quantized key of w to dst.
	AppendKey(dst []byte, w W, q Quantizer) []byte

	// ExpandFront broadcasts w to the shape front+Shape(w).
	ExpandFront(w W, front []int) W
	// ExpandBack broadcasts w to the shape Shape(w)+back.
	ExpandBack(w W, back []int) W

	// Flatten returns the components of w in row-major order.
	Flatten(w W) []complex128
	// FromFlat rebuilds a weight of the given parallel shape from its components.
	FromFlat(parallel []int, data []complex128) W
}

// Key returns the quantized key of w as a string.
func Key[W any](ops Ops[W], w W, q Quantizer) string {
	return string(ops.AppendKey(nil, w, q))
}

// numElements returns the product of dims (1 for an empty shape).
func numElements(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

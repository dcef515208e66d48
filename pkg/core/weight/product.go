package weight

import (
	"fmt"

	"github.com/sanonone/kektordd/pkg/core/dense"
)

// ParallelMode selects how the parallel dimensions of two batched diagrams combine
// when they are contracted.
type ParallelMode int

const (
	// Outer keeps both batch shapes: the result has parallel shape A+B.
	Outer ParallelMode = iota
	// Shared treats the batch dimensions as the same batch: the result keeps the
	// common (broadcast) parallel shape and multiplies element-wise.
	Shared
)

func (m ParallelMode) String() string {
	switch m {
	case Outer:
		return "outer"
	case Shared:
		return "shared"
	default:
		return fmt.Sprintf("ParallelMode(%d)", int(m))
	}
}

// Product multiplies a weight of type A by a weight of type B into type C. It is the
// terminal-level combination rule of a contraction.
type Product[A, B, C any] func(a A, b B) C

// ScalarProduct is the product of two scalar weights.
func ScalarProduct(a, b complex128) complex128 { return a * b }

// BatchProduct returns the product of two batched weights under mode.
func BatchProduct(mode ParallelMode) Product[Batch, Batch, Batch] {
	ops := Batched{}
	switch mode {
	case Shared:
		return ops.Mul
	default:
		return func(a, b Batch) Batch {
			return ops.Mul(ops.ExpandBack(a, b.Shape), ops.ExpandFront(b, a.Shape))
		}
	}
}

// ScalarBatchProduct returns the product of a scalar weight with a batched one.
// Sharing parallel dimensions between a scalar and a batched diagram is not
// defined and yields ErrUnsupportedCombination.
func ScalarBatchProduct(mode ParallelMode) (Product[complex128, Batch, Batch], error) {
	if mode == Shared {
		return nil, fmt.Errorf("%w: scalar x batch in %s mode", ErrUnsupportedCombination, mode)
	}
	ops := Batched{}
	return func(a complex128, b Batch) Batch { return ops.Scale(b, a) }, nil
}

// BatchScalarProduct is the mirror of ScalarBatchProduct.
func BatchScalarProduct(mode ParallelMode) (Product[Batch, complex128, Batch], error) {
	if mode == Shared {
		return nil, fmt.Errorf("%w: batch x scalar in %s mode", ErrUnsupportedCombination, mode)
	}
	ops := Batched{}
	return func(a Batch, b complex128) Batch { return ops.Scale(a, b) }, nil
}

// ProductShape returns the parallel shape of a product of weights with parallel
// shapes a and b under mode.
func ProductShape(a, b []int, mode ParallelMode) []int {
	if mode == Shared {
		shape, err := dense.BroadcastShapes(a, b)
		if err != nil {
			return a
		}
		return shape
	}
	out := make([]int, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

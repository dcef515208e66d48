// Package dense is the minimal dense-array backend of the decision-diagram engine.
//
// It supplies leaf values when a diagram is built from an array, receives the
// reassembled array when a diagram is materialized, and provides reference
// implementations of tensordot and trace used to cross-check the engine.
package dense

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when two shapes are not compatible for an operation.
var ErrShapeMismatch = errors.New("dense: shape mismatch")

// Shape represents the dimensions of an array.
type Shape []int

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions > 0).
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Strides calculates row-major strides for the shape.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// Concat returns s followed by other as a new shape.
func (s Shape) Concat(other Shape) Shape {
	out := make(Shape, 0, len(s)+len(other))
	out = append(out, s...)
	return append(out, other...)
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Shapes are compared right to left; two dimensions are compatible when they
// are equal or one of them is 1. Missing dimensions are treated as 1.
//
//	(3, 1) + (3, 5) -> (3, 5)
//	(5)    + (3, 5) -> (3, 5)
//	(3, 4) + (3, 5) -> error
func BroadcastShapes(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	result := make(Shape, n)
	for i := 0; i < n; i++ {
		aDim, bDim := 1, 1
		if ai := len(a) - 1 - i; ai >= 0 {
			aDim = a[ai]
		}
		if bi := len(b) - 1 - i; bi >= 0 {
			bDim = b[bi]
		}
		switch {
		case aDim == bDim, bDim == 1:
			result[n-1-i] = aDim
		case aDim == 1:
			result[n-1-i] = bDim
		default:
			return nil, fmt.Errorf("%w: cannot broadcast %v with %v", ErrShapeMismatch, a, b)
		}
	}
	return result, nil
}

// broadcastIndex maps a flat index of the broadcast shape out onto the flat
// index of an operand with shape in (right aligned).
func broadcastIndex(flat int, out, in Shape) int {
	idx := 0
	stride := 1
	for i := len(out) - 1; i >= 0; i-- {
		coord := flat % out[i]
		flat /= out[i]
		j := i - (len(out) - len(in))
		if j < 0 {
			continue
		}
		if in[j] != 1 {
			idx += coord * stride
		}
		stride *= in[j]
	}
	return idx
}

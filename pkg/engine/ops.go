package engine

import (
	"fmt"
	"slices"

	"github.com/sanonone/kektordd/pkg/core/dd"
)

// Add returns a + b. Both diagrams must have the same index and parallel shapes.
func Add[W any](a, b *Diagram[W]) (*Diagram[W], error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	if !slices.Equal(a.shape, b.shape) {
		return nil, fmt.Errorf("%w: %v + %v", ErrShapeMismatch, a.shape, b.shape)
	}
	if pa, pb := a.Parallel(), b.Parallel(); !slices.Equal(pa, pb) {
		return nil, fmt.Errorf("%w: parallel shapes %v + %v", ErrShapeMismatch, pa, pb)
	}
	done, err := a.owner.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	return newDiagram(a.owner, a.dd, a.dd.Sum(a.edge, b.edge), a.shape), nil
}

// Trace sums x over the diagonal of every pair. Pairs may name their
// indices in either order; the surviving indices keep their relative order.
func Trace[W any](x *Diagram[W], pairs []dd.IndexPair) (*Diagram[W], error) {
	if err := x.usable(); err != nil {
		return nil, err
	}
	norm, err := tracePairs(x.shape, pairs)
	if err != nil {
		return nil, err
	}
	done, err := x.owner.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	r := x.dd.Trace(x.edge, x.shape, norm)
	return newDiagram(x.owner, x.dd, r, survivors(x.shape, norm)), nil
}

// Scale returns c * x.
func Scale[W any](x *Diagram[W], c complex128) (*Diagram[W], error) {
	if err := x.usable(); err != nil {
		return nil, err
	}
	done, err := x.owner.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	return newDiagram(x.owner, x.dd, x.dd.Scale(x.edge, c), x.shape), nil
}

// Conj returns the element-wise complex conjugate of x.
func Conj[W any](x *Diagram[W]) (*Diagram[W], error) {
	if err := x.usable(); err != nil {
		return nil, err
	}
	done, err := x.owner.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	return newDiagram(x.owner, x.dd, x.dd.Conj(x.edge), x.shape), nil
}

func checkPair[A, B any](a *Diagram[A], b *Diagram[B]) error {
	if err := a.usable(); err != nil {
		return err
	}
	if err := b.usable(); err != nil {
		return err
	}
	if a.owner != b.owner {
		return ErrForeignDiagram
	}
	return nil
}

// tracePairs validates pairs against shape and returns them with
// First < Second.
func tracePairs(shape []int, pairs []dd.IndexPair) ([]dd.IndexPair, error) {
	used := make([]bool, len(shape))
	out := make([]dd.IndexPair, len(pairs))
	for i, p := range pairs {
		if p.First > p.Second {
			p.First, p.Second = p.Second, p.First
		}
		if p.First < 0 || p.Second >= len(shape) {
			return nil, fmt.Errorf("%w: pair (%d, %d) out of range for rank %d", ErrInvalidPairs, p.First, p.Second, len(shape))
		}
		if p.First == p.Second || used[p.First] || used[p.Second] {
			return nil, fmt.Errorf("%w: index repeated in pair (%d, %d)", ErrInvalidPairs, p.First, p.Second)
		}
		if shape[p.First] != shape[p.Second] {
			return nil, fmt.Errorf("%w: pair (%d, %d) joins dimensions %d and %d",
				ErrInvalidPairs, p.First, p.Second, shape[p.First], shape[p.Second])
		}
		used[p.First], used[p.Second] = true, true
		out[i] = p
	}
	return out, nil
}

// contractPairs validates pairs joining an index of a (First) with one of b
// (Second).
func contractPairs(shapeA, shapeB []int, pairs []dd.IndexPair) error {
	usedA := make([]bool, len(shapeA))
	usedB := make([]bool, len(shapeB))
	for _, p := range pairs {
		if p.First < 0 || p.First >= len(shapeA) || p.Second < 0 || p.Second >= len(shapeB) {
			return fmt.Errorf("%w: pair (%d, %d) out of range for ranks %d and %d",
				ErrInvalidPairs, p.First, p.Second, len(shapeA), len(shapeB))
		}
		if usedA[p.First] || usedB[p.Second] {
			return fmt.Errorf("%w: index repeated in pair (%d, %d)", ErrInvalidPairs, p.First, p.Second)
		}
		if shapeA[p.First] != shapeB[p.Second] {
			return fmt.Errorf("%w: pair (%d, %d) joins dimensions %d and %d",
				ErrInvalidPairs, p.First, p.Second, shapeA[p.First], shapeB[p.Second])
		}
		usedA[p.First], usedB[p.Second] = true, true
	}
	return nil
}

// survivors returns the dimensions of the indices not named by pairs.
func survivors(shape []int, pairs []dd.IndexPair) []int {
	used := make([]bool, len(shape))
	for _, p := range pairs {
		used[p.First], used[p.Second] = true, true
	}
	out := make([]int, 0, len(shape)-2*len(pairs))
	for i, d := range shape {
		if !used[i] {
			out = append(out, d)
		}
	}
	return out
}

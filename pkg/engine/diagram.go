package engine

import (
	"slices"
	"sync/atomic"

	"github.com/sanonone/kektordd/pkg/core/dd"
	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
)

// Diagram is a handle on a tensor stored in an engine. It keeps its nodes
// alive across Collect until Release is called.
//
// Diagrams are immutable and safe for concurrent use.
type Diagram[W any] struct {
	owner    *Engine
	dd       *dd.Engine[W]
	edge     dd.Edge[W]
	shape    []int
	released atomic.Bool
}

// ScalarDiagram is a diagram with one complex weight per edge.
type ScalarDiagram = Diagram[complex128]

// BatchDiagram is a diagram whose weights are arrays of a common parallel shape.
type BatchDiagram = Diagram[weight.Batch]

// newDiagram retains x. The caller holds owner.opMu shared.
func newDiagram[W any](owner *Engine, eng *dd.Engine[W], x dd.Edge[W], shape []int) *Diagram[W] {
	eng.Retain(x)
	return &Diagram[W]{owner: owner, dd: eng, edge: x, shape: slices.Clone(shape)}
}

// Shape returns the index dimensions.
func (d *Diagram[W]) Shape() []int { return slices.Clone(d.shape) }

// Rank returns the number of indices.
func (d *Diagram[W]) Rank() int { return len(d.shape) }

// Parallel returns the parallel shape of the weights (empty for scalars).
func (d *Diagram[W]) Parallel() []int { return slices.Clone(d.dd.Ops().Shape(d.edge.W)) }

// Edge returns the root edge.
func (d *Diagram[W]) Edge() dd.Edge[W] { return d.edge }

// Size returns the number of distinct nodes of the diagram.
func (d *Diagram[W]) Size() (int, error) {
	if err := d.usable(); err != nil {
		return 0, err
	}
	return d.dd.Size(d.edge), nil
}

// ToArray materializes the tensor. The result has the index dimensions
// followed by the parallel shape.
func (d *Diagram[W]) ToArray() (*dense.Array, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	return d.dd.ToArray(d.edge, d.shape)
}

// Release drops the diagram's hold on its nodes. Further use of d fails
// with ErrReleased. Release is idempotent.
func (d *Diagram[W]) Release() {
	if d.released.Swap(true) {
		return
	}
	d.dd.Release(d.edge)
}

// Retain returns a second handle on the same tensor, released independently.
func (d *Diagram[W]) Retain() (*Diagram[W], error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	done, err := d.owner.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	return newDiagram(d.owner, d.dd, d.edge, d.shape), nil
}

func (d *Diagram[W]) usable() error {
	if d.released.Load() {
		return ErrReleased
	}
	return nil
}

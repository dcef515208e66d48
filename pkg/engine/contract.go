package engine

import (
	"errors"
	"fmt"

	"github.com/sanonone/kektordd/pkg/core/dd"
	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/core/weight"
)

// contractorKey identifies a memo table. Each contractor is bound to one pair
// of operand parallel shapes, so the shapes are part of the key.
type contractorKey struct {
	kind   string
	mode   weight.ParallelMode
	pa, pb string
}

// maxContractors bounds the number of cached contractors. Past it the cache
// is emptied before a new contractor is added.
const maxContractors = 64

// closer is the type-erased view of a cached contractor.
type closer interface{ Close() }

// contractorFor returns the cached contractor for key, building it if needed.
// The caller holds e.opMu shared until it is done with the contractor, so a
// dropped contractor is never used across a collection.
func contractorFor[A, B, C any](e *Engine, key contractorKey, build func() (*dd.Contractor[A, B, C], error)) (*dd.Contractor[A, B, C], error) {
	e.cmu.Lock()
	defer e.cmu.Unlock()
	if x, ok := e.contractors[key]; ok {
		return x.(*dd.Contractor[A, B, C]), nil
	}
	x, err := build()
	if err != nil {
		return nil, err
	}
	if len(e.contractors) >= maxContractors {
		e.dropContractorsLocked()
	}
	e.contractors[key] = x
	e.logger.Debug("contractor created", "kind", key.kind, "mode", key.mode, "parallel_a", key.pa, "parallel_b", key.pb)
	return x, nil
}

// dropContractors detaches every cached contractor from the engines. A call
// already using one finishes normally.
func (e *Engine) dropContractors() {
	e.cmu.Lock()
	defer e.cmu.Unlock()
	e.dropContractorsLocked()
}

func (e *Engine) dropContractorsLocked() {
	for _, x := range e.contractors {
		x.(closer).Close()
	}
	clear(e.contractors)
}

func (e *Engine) contractorCount() int {
	e.cmu.Lock()
	defer e.cmu.Unlock()
	return len(e.contractors)
}

func (e *Engine) key(kind string, mode weight.ParallelMode, pa, pb []int) contractorKey {
	return contractorKey{kind: kind, mode: mode, pa: fmt.Sprint(pa), pb: fmt.Sprint(pb)}
}

// ContractScalar contracts a with b over pairs (First indexes a, Second
// indexes b). A nil layout gives the tensordot order: the surviving indices
// of a followed by those of b.
func (e *Engine) ContractScalar(a, b *ScalarDiagram, pairs []dd.IndexPair, layout dd.Layout) (*ScalarDiagram, error) {
	if err := e.owns(a, b); err != nil {
		return nil, err
	}
	get := func() (*dd.Contractor[complex128, complex128, complex128], error) {
		return contractorFor(e, e.key("scalar*scalar", weight.Outer, nil, nil), func() (*dd.Contractor[complex128, complex128, complex128], error) {
			return dd.NewContractor(e.scalar, e.scalar, e.scalar, weight.ScalarProduct, e.opts.Threads), nil
		})
	}
	return contract(get, e.scalar, a, b, pairs, layout)
}

// ContractBatch contracts two batched diagrams. In Outer mode the result has
// the parallel shape of a followed by that of b; in Shared mode the parallel
// dimensions are treated as one batch and must broadcast.
func (e *Engine) ContractBatch(a, b *BatchDiagram, pairs []dd.IndexPair, layout dd.Layout, mode weight.ParallelMode) (*BatchDiagram, error) {
	if err := e.owns(a, b); err != nil {
		return nil, err
	}
	pa, pb := a.Parallel(), b.Parallel()
	if mode == weight.Shared {
		if _, err := dense.BroadcastShapes(pa, pb); err != nil {
			return nil, fmt.Errorf("%w: parallel shapes %v and %v", ErrShapeMismatch, pa, pb)
		}
	}
	get := func() (*dd.Contractor[weight.Batch, weight.Batch, weight.Batch], error) {
		return contractorFor(e, e.key("batch*batch", mode, pa, pb), func() (*dd.Contractor[weight.Batch, weight.Batch, weight.Batch], error) {
			return dd.NewContractor(e.batch, e.batch, e.batch, weight.BatchProduct(mode), e.opts.Threads), nil
		})
	}
	return contract(get, e.batch, a, b, pairs, layout)
}

// ContractScalarBatch contracts a scalar diagram with a batched one. Only
// Outer mode is defined; Shared yields weight.ErrUnsupportedCombination.
func (e *Engine) ContractScalarBatch(a *ScalarDiagram, b *BatchDiagram, pairs []dd.IndexPair, layout dd.Layout, mode weight.ParallelMode) (*BatchDiagram, error) {
	if err := e.owns(a, b); err != nil {
		return nil, err
	}
	get := func() (*dd.Contractor[complex128, weight.Batch, weight.Batch], error) {
		return contractorFor(e, e.key("scalar*batch", mode, nil, b.Parallel()), func() (*dd.Contractor[complex128, weight.Batch, weight.Batch], error) {
			p, err := weight.ScalarBatchProduct(mode)
			if err != nil {
				return nil, err
			}
			return dd.NewContractor(e.scalar, e.batch, e.batch, p, e.opts.Threads), nil
		})
	}
	return contract(get, e.batch, a, b, pairs, layout)
}

// ContractBatchScalar is the mirror of ContractScalarBatch.
func (e *Engine) ContractBatchScalar(a *BatchDiagram, b *ScalarDiagram, pairs []dd.IndexPair, layout dd.Layout, mode weight.ParallelMode) (*BatchDiagram, error) {
	if err := e.owns(a, b); err != nil {
		return nil, err
	}
	get := func() (*dd.Contractor[weight.Batch, complex128, weight.Batch], error) {
		return contractorFor(e, e.key("batch*scalar", mode, a.Parallel(), nil), func() (*dd.Contractor[weight.Batch, complex128, weight.Batch], error) {
			p, err := weight.BatchScalarProduct(mode)
			if err != nil {
				return nil, err
			}
			return dd.NewContractor(e.batch, e.scalar, e.batch, p, e.opts.Threads), nil
		})
	}
	return contract(get, e.batch, a, b, pairs, layout)
}

// owns checks that both diagrams are usable and belong to e.
func (e *Engine) owns(a interface{ usable() error }, b interface{ usable() error }) error {
	if e.isClosed.Load() {
		return ErrClosed
	}
	for _, d := range []interface{ usable() error }{a, b} {
		if err := d.usable(); err != nil {
			return err
		}
	}
	if ownerOf(a) != e || ownerOf(b) != e {
		return ErrForeignDiagram
	}
	return nil
}

func ownerOf(d any) *Engine {
	switch d := d.(type) {
	case *ScalarDiagram:
		return d.owner
	case *BatchDiagram:
		return d.owner
	default:
		return nil
	}
}

// contract runs one contraction. On memory pressure the result is retained
// first, then a full collection runs outside the shared section.
func contract[A, B, C any](get func() (*dd.Contractor[A, B, C], error), c *dd.Engine[C], a *Diagram[A], b *Diagram[B], pairs []dd.IndexPair, layout dd.Layout) (*Diagram[C], error) {
	if err := contractPairs(a.shape, b.shape, pairs); err != nil {
		return nil, err
	}
	if layout == nil {
		layout = dd.DefaultLayout(len(a.shape), len(b.shape), pairs)
	} else if err := layout.Validate(len(a.shape), len(b.shape), pairs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	e := a.owner
	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	x, err := get()
	if err != nil {
		done()
		return nil, err
	}
	r, err := x.Contract(a.edge, b.edge, a.shape, b.shape, pairs, layout)
	pressure := errors.Is(err, dd.ErrMemoryPressure)
	if err != nil && !pressure {
		done()
		return nil, fmt.Errorf("contraction failed: %w", err)
	}
	d := newDiagram(e, c, r, layout.Shape(a.shape, b.shape))
	done()
	if !pressure {
		return d, nil
	}

	// Every live result is retained now, so a full collection is safe
	e.collect()
	if err := c.CheckMemory(); err != nil {
		d.Release()
		return nil, fmt.Errorf("contraction failed: %w", err)
	}
	return d, nil
}

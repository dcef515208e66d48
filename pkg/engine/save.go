package engine

import (
	"fmt"
	"io"

	"github.com/sanonone/kektordd/pkg/core/dd"
	"github.com/sanonone/kektordd/pkg/core/dense"
	"github.com/sanonone/kektordd/pkg/persistence"
)

const (
	kindScalar = "scalar"
	kindBatch  = "batch"
)

func parsePrecision(s string) (persistence.Precision, error) {
	p, err := persistence.ParsePrecision(s)
	if err != nil {
		return 0, fmt.Errorf("invalid options: %w", err)
	}
	return p, nil
}

// snapshot flattens d into the persistence format.
func snapshot[W any](d *Diagram[W], kind string) (persistence.Snapshot, error) {
	if err := d.usable(); err != nil {
		return persistence.Snapshot{}, err
	}
	prec, err := parsePrecision(d.owner.opts.SnapshotPrecision)
	if err != nil {
		return persistence.Snapshot{}, err
	}
	root, recs := d.dd.Export(d.edge)
	s := persistence.Snapshot{
		Header: persistence.Header{
			Precision: prec,
			Kind:      kind,
			Shape:     d.Shape(),
			Parallel:  d.Parallel(),
		},
		Root:  toStoredEdge(root),
		Nodes: make([]persistence.Node, len(recs)),
	}
	for i, r := range recs {
		n := persistence.Node{ID: uint32(r.ID), Order: r.Order, Succ: make([]persistence.Edge, len(r.Succ))}
		for v, x := range r.Succ {
			n.Succ[v] = toStoredEdge(x)
		}
		s.Nodes[i] = n
	}
	return s, nil
}

func toStoredEdge(r dd.EdgeRecord) persistence.Edge {
	return persistence.Edge{Node: uint32(r.Node), W: r.W}
}

func fromStoredEdge(e persistence.Edge) dd.EdgeRecord {
	return dd.EdgeRecord{Node: dd.NodeID(e.Node), W: e.W}
}

func kindOf(d any) string {
	if _, ok := d.(*ScalarDiagram); ok {
		return kindScalar
	}
	return kindBatch
}

// Save writes d to path atomically, using the engine's snapshot precision.
func Save[W any](d *Diagram[W], path string) error {
	s, err := snapshot(d, kindOf(d))
	if err != nil {
		return err
	}
	if err := persistence.WriteFile(path, s); err != nil {
		return fmt.Errorf("failed to save diagram: %w", err)
	}
	d.owner.logger.Info("diagram saved", "path", path, "kind", s.Header.Kind, "nodes", len(s.Nodes), "precision", s.Header.Precision)
	return nil
}

// WriteTo encodes d to w.
func WriteTo[W any](d *Diagram[W], w io.Writer) error {
	s, err := snapshot(d, kindOf(d))
	if err != nil {
		return err
	}
	return persistence.Write(w, s)
}

// LoadScalar reads a scalar diagram saved by Save.
func (e *Engine) LoadScalar(path string) (*ScalarDiagram, error) {
	s, err := persistence.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load diagram: %w", err)
	}
	return restore(e, e.scalar, kindScalar, s)
}

// LoadBatch reads a batched diagram saved by Save.
func (e *Engine) LoadBatch(path string) (*BatchDiagram, error) {
	s, err := persistence.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load diagram: %w", err)
	}
	return restore(e, e.batch, kindBatch, s)
}

// ReadScalar decodes a scalar diagram written by WriteTo.
func (e *Engine) ReadScalar(r io.Reader) (*ScalarDiagram, error) {
	s, err := persistence.Read(r)
	if err != nil {
		return nil, err
	}
	return restore(e, e.scalar, kindScalar, s)
}

// ReadBatch decodes a batched diagram written by WriteTo.
func (e *Engine) ReadBatch(r io.Reader) (*BatchDiagram, error) {
	s, err := persistence.Read(r)
	if err != nil {
		return nil, err
	}
	return restore(e, e.batch, kindBatch, s)
}

func restore[W any](e *Engine, eng *dd.Engine[W], kind string, s persistence.Snapshot) (*Diagram[W], error) {
	if s.Header.Kind != kind {
		return nil, fmt.Errorf("%w: snapshot holds a %s diagram, not %s", ErrShapeMismatch, s.Header.Kind, kind)
	}
	if err := checkSnapshot(s); err != nil {
		return nil, fmt.Errorf("failed to load diagram: %w", err)
	}
	recs := make([]dd.NodeRecord, len(s.Nodes))
	for i, n := range s.Nodes {
		r := dd.NodeRecord{ID: dd.NodeID(n.ID), Order: n.Order, Succ: make([]dd.EdgeRecord, len(n.Succ))}
		for v, x := range n.Succ {
			r.Succ[v] = fromStoredEdge(x)
		}
		recs[i] = r
	}

	done, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	x, err := eng.Import(s.Header.Parallel, fromStoredEdge(s.Root), recs)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild diagram: %w", err)
	}
	e.logger.Info("diagram loaded", "kind", kind, "nodes", len(recs), "precision", s.Header.Precision)
	return newDiagram(e, eng, x, s.Header.Shape), nil
}

// maxWeightSize bounds the number of components of one stored weight.
const maxWeightSize = 1 << 30

// checkSnapshot verifies that s describes a diagram: shapes are positive,
// every weight has one component per parallel element, and every node
// branches on an index of the shape with one successor per value, above its
// successors.
func checkSnapshot(s persistence.Snapshot) error {
	h := s.Header
	if err := dense.Shape(h.Shape).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if err := dense.Shape(h.Parallel).Validate(); err != nil {
		return fmt.Errorf("%w: parallel shape: %v", ErrShapeMismatch, err)
	}
	if h.Kind == kindScalar && len(h.Parallel) > 0 {
		return fmt.Errorf("%w: scalar snapshot with parallel shape %v", ErrShapeMismatch, h.Parallel)
	}
	size := 1
	for _, d := range h.Parallel {
		if size > maxWeightSize/d {
			return fmt.Errorf("%w: parallel shape %v too large", ErrShapeMismatch, h.Parallel)
		}
		size *= d
	}

	orders := make(map[uint32]int, len(s.Nodes))
	edge := func(x persistence.Edge, parent int) error {
		if len(x.W) != size {
			return fmt.Errorf("%w: weight has %d components, want %d", persistence.ErrCorrupt, len(x.W), size)
		}
		if x.Node == 0 {
			return nil
		}
		k, ok := orders[x.Node]
		if !ok {
			return fmt.Errorf("%w: edge to unknown node %d", persistence.ErrCorrupt, x.Node)
		}
		if k <= parent {
			return fmt.Errorf("%w: node %d of order %d below order %d", persistence.ErrCorrupt, x.Node, k, parent)
		}
		return nil
	}
	for _, n := range s.Nodes {
		if n.ID == 0 {
			return fmt.Errorf("%w: node record with the terminal id", persistence.ErrCorrupt)
		}
		if _, dup := orders[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node %d", persistence.ErrCorrupt, n.ID)
		}
		if n.Order < 0 || n.Order >= len(h.Shape) {
			return fmt.Errorf("%w: node %d has order %d for rank %d", ErrShapeMismatch, n.ID, n.Order, len(h.Shape))
		}
		if len(n.Succ) != h.Shape[n.Order] {
			return fmt.Errorf("%w: node %d has %d successors for dimension %d", ErrShapeMismatch, n.ID, len(n.Succ), h.Shape[n.Order])
		}
		for _, x := range n.Succ {
			if err := edge(x, n.Order); err != nil {
				return err
			}
		}
		orders[n.ID] = n.Order
	}
	return edge(s.Root, -1)
}

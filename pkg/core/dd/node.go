package dd

import (
	"math"
	"sync/atomic"
)

// NodeID addresses a node inside an engine's arena.
type NodeID uint32

// Terminal is the single conceptual terminal node. It has no Node object.
const Terminal NodeID = 0

// terminalOrder is the order used for the terminal when comparing against
// index positions: it lies after every real index.
const terminalOrder = math.MaxInt

// Node is an internal vertex of a diagram. It branches on the tensor index
// Order and has one successor edge per value of that index.
//
// A node is immutable once it has been published in the unique table.
type Node[W any] struct {
	Order int
	Succ  []Edge[W]

	refs atomic.Int32
	key  string
}

// Refs returns the current reference count of the node.
func (n *Node[W]) Refs() int32 { return n.refs.Load() }

// Edge is a weighted pointer to a node or to the terminal.
type Edge[W any] struct {
	W    W
	Node NodeID
}

// IsTerminal reports whether e points to the terminal.
func (e Edge[W]) IsTerminal() bool { return e.Node == Terminal }

package dd

import (
	"sync"

	"github.com/tidwall/btree"
)

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits // nodes per chunk
	chunkMask = chunkSize - 1
)

// arena stores nodes in fixed-size chunks addressed by NodeID. Slot 0 is
// reserved for the terminal. Freed ids are kept in an ordered set and the
// lowest one is reused first, which keeps the id space dense after sweeps.
type arena[W any] struct {
	mu     sync.RWMutex
	chunks [][]*Node[W]
	next   NodeID
	free   *btree.BTreeG[NodeID]
	live   int
}

func newArena[W any]() *arena[W] {
	return &arena[W]{
		next: 1,
		free: btree.NewBTreeG(func(a, b NodeID) bool { return a < b }),
	}
}

// get returns the node stored under id, or nil for the terminal and free slots.
func (a *arena[W]) get(id NodeID) *Node[W] {
	if id == Terminal {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := int(id >> chunkBits)
	if c >= len(a.chunks) {
		return nil
	}
	return a.chunks[c][id&chunkMask]
}

// alloc stores n in a free slot and returns its id.
func (a *arena[W]) alloc(n *Node[W]) NodeID {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, ok := a.free.PopMin()
	if !ok {
		id = a.next
		a.next++
		if c := int(id >> chunkBits); c >= len(a.chunks) {
			a.chunks = append(a.chunks, make([]*Node[W], chunkSize))
		}
	}
	a.chunks[id>>chunkBits][id&chunkMask] = n
	a.live++
	return id
}

// capacity returns one past the highest id ever handed out.
func (a *arena[W]) capacity() NodeID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.next
}

func (a *arena[W]) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// retain frees every occupied slot whose id is not marked and returns the
// number of freed nodes. The caller must hold the engine exclusively.
func (a *arena[W]) retain(marked *bitSet) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	freed := 0
	for id := NodeID(1); id < a.next; id++ {
		slot := &a.chunks[id>>chunkBits][id&chunkMask]
		if *slot == nil || marked.has(uint32(id)) {
			continue
		}
		*slot = nil
		a.free.Set(id)
		freed++
	}
	a.live -= freed
	return freed
}

// each calls fn for every occupied slot in id order.
func (a *arena[W]) each(fn func(id NodeID, n *Node[W])) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for id := NodeID(1); id < a.next; id++ {
		if n := a.chunks[id>>chunkBits][id&chunkMask]; n != nil {
			fn(id, n)
		}
	}
}

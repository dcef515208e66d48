package dd

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the number of unique-table shards used when none is configured.
const DefaultShards = 32

type tableShard struct {
	mu sync.RWMutex
	m  map[string]NodeID
}

// uniqueTable maps canonical node keys to node ids. The key space is split
// across shards selected by the key hash, each guarded by its own lock.
type uniqueTable struct {
	shards []tableShard
}

func newUniqueTable(shards int) *uniqueTable {
	if shards <= 0 {
		shards = DefaultShards
	}
	t := &uniqueTable{shards: make([]tableShard, shards)}
	for i := range t.shards {
		t.shards[i].m = make(map[string]NodeID)
	}
	return t
}

func (t *uniqueTable) shard(key string) *tableShard {
	return &t.shards[xxhash.Sum64String(key)%uint64(len(t.shards))]
}

// reset drops every entry. The caller must hold the engine exclusively.
func (t *uniqueTable) reset() {
	for i := range t.shards {
		t.shards[i].m = make(map[string]NodeID)
	}
}

// putLocked inserts without taking the shard lock.
func (t *uniqueTable) putLocked(key string, id NodeID) {
	t.shard(key).m[key] = id
}

func (t *uniqueTable) len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}

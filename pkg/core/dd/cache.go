package dd

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanonone/kektordd/pkg/metrics"
)

// opCache is a concurrent memo table for one kind of operation.
// Entries are only ever added; the whole table is dropped on clear.
type opCache[K comparable, V any] struct {
	name   string
	engine string

	mu sync.RWMutex
	m  map[K]V

	hits   atomic.Int64
	misses atomic.Int64

	hitCounter  prometheus.Counter
	missCounter prometheus.Counter
}

func newOpCache[K comparable, V any](name, engine string) *opCache[K, V] {
	return &opCache[K, V]{
		name:        name,
		engine:      engine,
		m:           make(map[K]V),
		hitCounter:  metrics.CacheLookupsTotal.WithLabelValues(engine, name, "hit"),
		missCounter: metrics.CacheLookupsTotal.WithLabelValues(engine, name, "miss"),
	}
}

func (c *opCache[K, V]) get(k K) (V, bool) {
	c.mu.RLock()
	v, ok := c.m[k]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		c.hitCounter.Inc()
	} else {
		c.misses.Add(1)
		c.missCounter.Inc()
	}
	return v, ok
}

func (c *opCache[K, V]) put(k K, v V) {
	c.mu.Lock()
	c.m[k] = v
	c.mu.Unlock()
}

func (c *opCache[K, V]) clear() {
	c.mu.Lock()
	c.m = make(map[K]V)
	c.mu.Unlock()
}

func (c *opCache[K, V]) stats() CacheStats {
	c.mu.RLock()
	n := len(c.m)
	c.mu.RUnlock()
	return CacheStats{Name: c.name, Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// CacheStats describes one operation cache.
type CacheStats struct {
	Name    string
	Entries int
	Hits    int64
	Misses  int64
}

// clearer is implemented by anything that holds memoized results referring to
// an engine's nodes.
type clearer interface {
	clearCache()
	cacheStats() CacheStats
}

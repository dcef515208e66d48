package dd

// bitSet is a growable set of node ids used by the mark phase of a sweep.
type bitSet struct {
	buckets []uint64
}

func newBitSet(capacity uint32) *bitSet {
	return &bitSet{buckets: make([]uint64, (capacity>>6)+1)}
}

func (bs *bitSet) grow(n uint32) {
	needed := (n >> 6) + 1
	if uint32(len(bs.buckets)) < needed {
		buckets := make([]uint64, needed)
		copy(buckets, bs.buckets)
		bs.buckets = buckets
	}
}

func (bs *bitSet) add(n uint32) {
	if n>>6 >= uint32(len(bs.buckets)) {
		bs.grow(n)
	}
	bs.buckets[n>>6] |= 1 << (n & 63)
}

func (bs *bitSet) has(n uint32) bool {
	b := n >> 6
	if b >= uint32(len(bs.buckets)) {
		return false
	}
	return bs.buckets[b]&(1<<(n&63)) != 0
}

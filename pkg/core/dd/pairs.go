package dd

import (
	"encoding/binary"
	"slices"
)

// IndexPair names two indices joined by a trace or a contraction. For a
// trace both refer to the same diagram and First < Second. For a
// contraction First is an index of the left operand and Second one of the
// right operand.
type IndexPair struct {
	First, Second int
}

// pendingPair is a pair neither side of which has been opened yet.
type pendingPair struct {
	first, second, dim int
}

// waitEntry fixes index to value: the edge that reaches index must follow
// successor value.
type waitEntry struct {
	index, value int
}

func removePair(ps []pendingPair, i int) []pendingPair {
	out := make([]pendingPair, 0, len(ps)-1)
	out = append(out, ps[:i]...)
	return append(out, ps[i+1:]...)
}

// insertWait returns a copy of ws with (index, value) inserted in index order.
func insertWait(ws []waitEntry, index, value int) []waitEntry {
	i, _ := slices.BinarySearchFunc(ws, index, func(w waitEntry, t int) int { return w.index - t })
	out := make([]waitEntry, 0, len(ws)+1)
	out = append(out, ws[:i]...)
	out = append(out, waitEntry{index: index, value: value})
	return append(out, ws[i:]...)
}

func appendPairs(buf []byte, ps []pendingPair) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(ps)))
	for _, p := range ps {
		buf = binary.AppendUvarint(buf, uint64(p.first))
		buf = binary.AppendUvarint(buf, uint64(p.second))
		buf = binary.AppendUvarint(buf, uint64(p.dim))
	}
	return buf
}

func appendWaits(buf []byte, ws []waitEntry) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(ws)))
	for _, w := range ws {
		buf = binary.AppendUvarint(buf, uint64(w.index))
		buf = binary.AppendUvarint(buf, uint64(w.value))
	}
	return buf
}

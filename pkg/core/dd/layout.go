package dd

import (
	"encoding/binary"
	"fmt"
)

// Side selects an operand of a contraction.
type Side uint8

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Slot places one surviving index of an operand in the output.
type Slot struct {
	Side  Side
	Index int
}

// Layout lists the output indices of a contraction in order. Within each
// operand the surviving indices must keep their relative order.
type Layout []Slot

// DefaultLayout returns the tensordot layout: the surviving indices of the
// left operand followed by those of the right one.
func DefaultLayout(rankA, rankB int, pairs []IndexPair) Layout {
	usedA := make([]bool, rankA)
	usedB := make([]bool, rankB)
	for _, p := range pairs {
		usedA[p.First] = true
		usedB[p.Second] = true
	}
	l := make(Layout, 0, rankA+rankB-2*len(pairs))
	for i, u := range usedA {
		if !u {
			l = append(l, Slot{Side: Left, Index: i})
		}
	}
	for i, u := range usedB {
		if !u {
			l = append(l, Slot{Side: Right, Index: i})
		}
	}
	return l
}

// Shape returns the output shape of the layout.
func (l Layout) Shape(shapeA, shapeB []int) []int {
	out := make([]int, len(l))
	for i, s := range l {
		if s.Side == Left {
			out[i] = shapeA[s.Index]
		} else {
			out[i] = shapeB[s.Index]
		}
	}
	return out
}

// Validate checks that l places exactly the indices not named by pairs,
// each once, preserving the per-operand order.
func (l Layout) Validate(rankA, rankB int, pairs []IndexPair) error {
	want := DefaultLayout(rankA, rankB, pairs)
	if len(l) != len(want) {
		return fmt.Errorf("layout has %d slots, want %d", len(l), len(want))
	}
	next := [2]int{-1, -1}
	seen := 0
	for _, s := range l {
		rank := rankA
		if s.Side == Right {
			rank = rankB
		}
		if s.Index < 0 || s.Index >= rank {
			return fmt.Errorf("layout slot %s:%d out of range", s.Side, s.Index)
		}
		if s.Index <= next[s.Side] {
			return fmt.Errorf("layout slot %s:%d breaks the operand order", s.Side, s.Index)
		}
		next[s.Side] = s.Index
		for _, w := range want {
			if w == s {
				seen++
				break
			}
		}
	}
	if seen != len(want) {
		return fmt.Errorf("layout places a contracted index")
	}
	return nil
}

// positions returns, per operand index, its output position or -1 when the
// index is contracted.
func (l Layout) positions(side Side, rank int) []int {
	pos := make([]int, rank)
	for i := range pos {
		pos[i] = -1
	}
	for i, s := range l {
		if s.Side == side {
			pos[s.Index] = i
		}
	}
	return pos
}

// suffixKeys returns for every k in [0, len(pos)] the encoding of pos[k:].
// It identifies how the rest of an operand maps onto the output.
func suffixKeys(pos []int) []string {
	keys := make([]string, len(pos)+1)
	var buf []byte
	for k := len(pos) - 1; k >= 0; k-- {
		buf = binary.AppendVarint(buf[:0], int64(pos[k]))
		keys[k] = string(buf) + keys[k+1]
	}
	return keys
}

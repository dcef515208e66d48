package weight

import (
	"encoding/binary"
	"math"
)

// Quantizer maps complex values onto an integer grid of spacing Epsilon, so that
// values equal within tolerance produce the same key. Keys built this way are the
// only input to unique-table and cache lookups; raw floating weights never are.
type Quantizer struct {
	Epsilon float64
}

// NewQuantizer returns a quantizer for the given tolerance.
func NewQuantizer(eps float64) Quantizer {
	return Quantizer{Epsilon: eps}
}

// Quantize returns the grid coordinates of v.
func (q Quantizer) Quantize(v complex128) (int64, int64) {
	if q.Epsilon == 0 {
		return int64(math.Float64bits(real(v))), int64(math.Float64bits(imag(v)))
	}
	re := math.Round(real(v) / q.Epsilon)
	im := math.Round(imag(v) / q.Epsilon)
	return int64(re), int64(im)
}

// AppendKey appends the varint encoding of v's grid coordinates to dst.
func (q Quantizer) AppendKey(dst []byte, v complex128) []byte {
	re, im := q.Quantize(v)
	dst = binary.AppendVarint(dst, re)
	return binary.AppendVarint(dst, im)
}

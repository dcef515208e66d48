package weight

import (
	"math/cmplx"

	"gonum.org/v1/gonum/cmplxs/cscalar"
)

// Scalar implements Ops for plain complex128 weights.
type Scalar struct{}

var _ Ops[complex128] = Scalar{}

func (Scalar) Ones([]int) complex128 { return 1 }
func (Scalar) Zeros([]int) complex128 { return 0 }
func (Scalar) Shape(complex128) []int { return nil }

func (Scalar) Mul(a, b complex128) complex128 { return a * b }
func (Scalar) Add(a, b complex128) complex128 { return a + b }
func (Scalar) Scale(w complex128, c complex128) complex128 { return w * c }
func (Scalar) Conj(w complex128) complex128 { return cmplx.Conj(w) }
func (Scalar) IsExactZero(w complex128) bool { return w == 0 }
func (Scalar) IsZero(w complex128, eps float64) bool { return cscalar.EqualWithinAbs(w, 0, eps) }
func (Scalar) Equal(a, b complex128, eps float64) bool { return cscalar.EqualWithinAbs(a, b, eps) }
func (Scalar) ExpandFront(w complex128, _ []int) complex128 { return w }
func (Scalar) ExpandBack(w complex128, _ []int) complex128 { return w }

func (Scalar) ReciprocalNonZero(w complex128) complex128 {
	if w == 0 {
		return 1
	}
	return 1 / w
}

func (Scalar) Dominant(ws []complex128, eps float64) complex128 {
	m := ws[0]
	mAbs := cmplx.Abs(m)
	for _, w := range ws[1:] {
		if a := cmplx.Abs(w); a-mAbs > eps*a {
			m, mAbs = w, a
		}
	}
	return m
}

func (Scalar) AppendKey(dst []byte, w complex128, q Quantizer) []byte {
	return q.AppendKey(dst, w)
}

func (Scalar) Flatten(w complex128) []complex128 { return []complex128{w} }

func (Scalar) FromFlat(_ []int, data []complex128) complex128 { return data[0] }

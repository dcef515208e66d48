package weight

import (
	"encoding/binary"
	"math/cmplx"

	"github.com/sanonone/kektordd/pkg/core/dense"
	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/cmplxs/cscalar"
)

// Batch is a batched weight: one complex value per element of a parallel shape.
// All weights of a diagram share the same parallel shape. Batch values are never
// modified after construction.
type Batch struct {
	Shape dense.Shape
	Data  []complex128
}

// NewBatch returns a batch weight of the given parallel shape. data is not copied.
func NewBatch(shape []int, data []complex128) Batch {
	return Batch{Shape: dense.Shape(shape).Clone(), Data: data}
}

// BatchOf returns a batch of the given shape with every element set to v.
func BatchOf(shape []int, v complex128) Batch {
	data := make([]complex128, numElements(shape))
	for i := range data {
		data[i] = v
	}
	return Batch{Shape: dense.Shape(shape).Clone(), Data: data}
}

func (b Batch) array() *dense.Array {
	a, err := dense.New(b.Shape, b.Data)
	if err != nil {
		panic(err)
	}
	return a
}

func fromArray(a *dense.Array) Batch {
	return Batch{Shape: a.Shape(), Data: a.Data()}
}

// Batched implements Ops for Batch weights. Binary operations broadcast their
// operands NumPy-style; every comparison is element-wise.
type Batched struct{}

var _ Ops[Batch] = Batched{}

func (Batched) Ones(parallel []int) Batch { return BatchOf(parallel, 1) }
func (Batched) Zeros(parallel []int) Batch { return BatchOf(parallel, 0) }
func (Batched) Shape(w Batch) []int { return w.Shape }

func (Batched) Mul(a, b Batch) Batch {
	out, err := dense.Mul(a.array(), b.array())
	if err != nil {
		panic(err)
	}
	return fromArray(out)
}

func (Batched) Add(a, b Batch) Batch {
	if a.Shape.Equal(b.Shape) {
		return Batch{Shape: a.Shape, Data: cmplxs.AddTo(make([]complex128, len(a.Data)), a.Data, b.Data)}
	}
	out, err := dense.Add(a.array(), b.array())
	if err != nil {
		panic(err)
	}
	return fromArray(out)
}

func (Batched) Scale(w Batch, c complex128) Batch {
	return Batch{Shape: w.Shape, Data: cmplxs.ScaleTo(make([]complex128, len(w.Data)), c, w.Data)}
}

func (Batched) Conj(w Batch) Batch {
	data := make([]complex128, len(w.Data))
	for i, v := range w.Data {
		data[i] = cmplx.Conj(v)
	}
	return Batch{Shape: w.Shape, Data: data}
}

func (Batched) IsExactZero(w Batch) bool {
	return cmplxs.Count(func(v complex128) bool { return v != 0 }, w.Data) == 0
}

func (Batched) IsZero(w Batch, eps float64) bool {
	for _, v := range w.Data {
		if !cscalar.EqualWithinAbs(v, 0, eps) {
			return false
		}
	}
	return true
}

func (Batched) ReciprocalNonZero(w Batch) Batch {
	data := make([]complex128, len(w.Data))
	for i, v := range w.Data {
		if v == 0 {
			data[i] = 1
		} else {
			data[i] = 1 / v
		}
	}
	return Batch{Shape: w.Shape, Data: data}
}

func (Batched) Dominant(ws []Batch, eps float64) Batch {
	shape := ws[0].Shape
	for _, w := range ws[1:] {
		if !w.Shape.Equal(shape) {
			s, err := dense.BroadcastShapes(shape, w.Shape)
			if err != nil {
				panic(err)
			}
			shape = s
		}
	}
	expanded := make([]Batch, len(ws))
	for i, w := range ws {
		expanded[i] = expandTo(w, shape)
	}

	data := make([]complex128, shape.NumElements())
	for j := range data {
		m := expanded[0].Data[j]
		mAbs := cmplx.Abs(m)
		for _, w := range expanded[1:] {
			if a := cmplx.Abs(w.Data[j]); a-mAbs > eps*a {
				m, mAbs = w.Data[j], a
			}
		}
		data[j] = m
	}
	return Batch{Shape: shape, Data: data}
}

func (Batched) Equal(a, b Batch, eps float64) bool {
	if !a.Shape.Equal(b.Shape) {
		return false
	}
	return cmplxs.EqualFunc(a.Data, b.Data, func(x, y complex128) bool {
		return cscalar.EqualWithinAbs(x, y, eps)
	})
}

func (Batched) AppendKey(dst []byte, w Batch, q Quantizer) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(w.Shape)))
	for _, d := range w.Shape {
		dst = binary.AppendUvarint(dst, uint64(d))
	}
	for _, v := range w.Data {
		dst = q.AppendKey(dst, v)
	}
	return dst
}

func (Batched) ExpandFront(w Batch, front []int) Batch {
	reps := numElements(front)
	data := make([]complex128, 0, reps*len(w.Data))
	for i := 0; i < reps; i++ {
		data = append(data, w.Data...)
	}
	return Batch{Shape: dense.Shape(front).Concat(w.Shape), Data: data}
}

func (Batched) ExpandBack(w Batch, back []int) Batch {
	reps := numElements(back)
	data := make([]complex128, 0, reps*len(w.Data))
	for _, v := range w.Data {
		for i := 0; i < reps; i++ {
			data = append(data, v)
		}
	}
	return Batch{Shape: w.Shape.Concat(back), Data: data}
}

func (Batched) Flatten(w Batch) []complex128 { return w.Data }

func (Batched) FromFlat(parallel []int, data []complex128) Batch {
	return NewBatch(parallel, data)
}

func expandTo(w Batch, shape dense.Shape) Batch {
	if w.Shape.Equal(shape) {
		return w
	}
	out, err := w.array().Expand(shape)
	if err != nil {
		panic(err)
	}
	return fromArray(out)
}

package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// FormatVersion is the current snapshot format version.
const FormatVersion = 1

// ErrUnsupportedPrecision is returned for unknown precision names or codes.
var ErrUnsupportedPrecision = errors.New("unsupported precision")

// ErrCorrupt is returned when a frame payload cannot be decoded or does not
// describe a valid diagram.
var ErrCorrupt = errors.New("corrupt snapshot payload")

// maxNodes is the largest node count a header may announce.
const maxNodes = math.MaxInt32

// Precision selects how weight components are stored.
type Precision uint8

const (
	Float64 Precision = iota
	Float32
	Float16
)

func (p Precision) String() string {
	switch p {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return fmt.Sprintf("precision(%d)", uint8(p))
	}
}

// ParsePrecision maps a precision name to its code.
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "", "float64":
		return Float64, nil
	case "float32":
		return Float32, nil
	case "float16":
		return Float16, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedPrecision, s)
}

// bytes returns the storage size of one real component.
func (p Precision) bytes() int {
	switch p {
	case Float32:
		return 4
	case Float16:
		return 2
	default:
		return 8
	}
}

func (p Precision) appendFloat(dst []byte, v float64) []byte {
	switch p {
	case Float32:
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(float32(v)))
	case Float16:
		return binary.LittleEndian.AppendUint16(dst, float16.Fromfloat32(float32(v)).Bits())
	default:
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
	}
}

func (p Precision) readFloat(src []byte) float64 {
	switch p {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(src)))
	case Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(src)).Float32())
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(src))
	}
}

// Header describes the tensor stored in a snapshot.
type Header struct {
	Version   uint8
	Precision Precision
	Kind      string // weight representation, "scalar" or "batch"
	Shape     []int
	Parallel  []int
	Nodes     int
}

// Edge is a stored edge. Node 0 is the terminal.
type Edge struct {
	Node uint32
	W    []complex128
}

// Node is a stored node. Successors refer to nodes stored before it.
type Node struct {
	ID    uint32
	Order int
	Succ  []Edge
}

// Snapshot is the decoded content of a snapshot stream.
type Snapshot struct {
	Header Header
	Root   Edge
	Nodes  []Node
}

func appendInts(dst []byte, xs []int) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(xs)))
	for _, x := range xs {
		dst = binary.AppendUvarint(dst, uint64(x))
	}
	return dst
}

func encodeHeader(h Header) []byte {
	buf := []byte{h.Version, byte(h.Precision)}
	buf = binary.AppendUvarint(buf, uint64(len(h.Kind)))
	buf = append(buf, h.Kind...)
	buf = appendInts(buf, h.Shape)
	buf = appendInts(buf, h.Parallel)
	return binary.AppendUvarint(buf, uint64(h.Nodes))
}

func (p Precision) appendEdge(dst []byte, e Edge) []byte {
	dst = binary.AppendUvarint(dst, uint64(e.Node))
	dst = binary.AppendUvarint(dst, uint64(len(e.W)))
	for _, v := range e.W {
		dst = p.appendFloat(dst, real(v))
		dst = p.appendFloat(dst, imag(v))
	}
	return dst
}

func (p Precision) encodeNode(n Node) []byte {
	buf := binary.AppendUvarint(nil, uint64(n.ID))
	buf = binary.AppendUvarint(buf, uint64(n.Order))
	buf = binary.AppendUvarint(buf, uint64(len(n.Succ)))
	for _, s := range n.Succ {
		buf = p.appendEdge(buf, s)
	}
	return buf
}

// reader decodes varints and fixed-size floats from a payload.
type reader struct {
	buf []byte
	err error
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.err = ErrCorrupt
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = ErrCorrupt
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

// count reads a length prefix, rejecting values larger than the remaining
// payload could possibly hold.
func (r *reader) count() int {
	v := r.uvarint()
	if v > uint64(len(r.buf)) {
		r.err = ErrCorrupt
		return 0
	}
	return int(v)
}

func (r *reader) ints() []int {
	n := r.count()
	if n == 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = int(r.uvarint())
	}
	return out
}

func decodeHeader(payload []byte) (Header, error) {
	r := &reader{buf: payload}
	b := r.bytes(2)
	if r.err != nil {
		return Header{}, r.err
	}
	h := Header{Version: b[0], Precision: Precision(b[1])}
	if h.Precision > Float16 {
		return Header{}, fmt.Errorf("%w: code %d", ErrUnsupportedPrecision, b[1])
	}
	h.Kind = string(r.bytes(r.count()))
	h.Shape = r.ints()
	h.Parallel = r.ints()
	nodes := r.uvarint()
	if r.err == nil && nodes > maxNodes {
		return Header{}, fmt.Errorf("%w: header announces %d nodes", ErrCorrupt, nodes)
	}
	h.Nodes = int(nodes)
	return h, r.err
}

func (p Precision) readEdge(r *reader) Edge {
	e := Edge{Node: uint32(r.uvarint())}
	n := r.count()
	if r.err != nil {
		return e
	}
	e.W = make([]complex128, n)
	size := p.bytes()
	for i := range e.W {
		raw := r.bytes(2 * size)
		if r.err != nil {
			return e
		}
		e.W[i] = complex(p.readFloat(raw[:size]), p.readFloat(raw[size:]))
	}
	return e
}

func (p Precision) decodeNode(payload []byte) (Node, error) {
	r := &reader{buf: payload}
	n := Node{ID: uint32(r.uvarint()), Order: int(r.uvarint())}
	k := r.count()
	for i := 0; i < k && r.err == nil; i++ {
		n.Succ = append(n.Succ, p.readEdge(r))
	}
	return n, r.err
}

func (p Precision) decodeRoot(payload []byte) (Edge, error) {
	r := &reader{buf: payload}
	e := p.readEdge(r)
	return e, r.err
}

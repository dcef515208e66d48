package persistence

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot(p Precision) Snapshot {
	return Snapshot{
		Header: Header{Precision: p, Kind: "batch", Shape: []int{2, 2}, Parallel: []int{2}},
		Nodes: []Node{
			{ID: 3, Order: 1, Succ: []Edge{{Node: 0, W: []complex128{1, 0.5i}}, {Node: 0, W: []complex128{0, -1}}}},
			{ID: 5, Order: 0, Succ: []Edge{{Node: 3, W: []complex128{1, 1}}, {Node: 0, W: []complex128{0.25, 0}}}},
		},
		Root: Edge{Node: 5, W: []complex128{2 + 1i, -3}},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for _, p := range []Precision{Float64, Float32, Float16} {
		t.Run(p.String(), func(t *testing.T) {
			want := sampleSnapshot(p)
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, want))

			got, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, FormatVersion, int(got.Header.Version))
			assert.Equal(t, 2, got.Header.Nodes)
			assert.Equal(t, want.Header.Kind, got.Header.Kind)
			assert.Equal(t, want.Header.Shape, got.Header.Shape)
			assert.Equal(t, want.Header.Parallel, got.Header.Parallel)
			// Every sample value is exactly representable in half precision.
			assert.Equal(t, want.Nodes, got.Nodes)
			assert.Equal(t, want.Root, got.Root)
		})
	}
}

func TestSnapshotLossyPrecision(t *testing.T) {
	s := sampleSnapshot(Float16)
	s.Root.W = []complex128{0.1, 1.0 / 3}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, s))

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, real(got.Root.W[0]), 1e-3)
	assert.InDelta(t, 1.0/3, real(got.Root.W[1]), 1e-3)
	assert.NotEqual(t, 0.1, real(got.Root.W[0]))
}

func TestSnapshotMissingRoot(t *testing.T) {
	s := sampleSnapshot(Float64)
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	h := s.Header
	h.Version, h.Nodes = FormatVersion, 2
	require.NoError(t, fw.WriteFrame(OpHeader, encodeHeader(h)))

	_, err := Read(&buf)
	assert.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diagram.kdd")
	want := sampleSnapshot(Float32)
	require.NoError(t, WriteFile(path, want))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.Nodes, got.Nodes)
	assert.Equal(t, want.Root, got.Root)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file is renamed away")
}

func TestParsePrecision(t *testing.T) {
	p, err := ParsePrecision("float16")
	require.NoError(t, err)
	assert.Equal(t, Float16, p)

	_, err = ParsePrecision("int8")
	assert.ErrorIs(t, err, ErrUnsupportedPrecision)
}

func TestSnapshotRejectsHugeNodeCount(t *testing.T) {
	h := Header{Version: FormatVersion, Precision: Float64, Kind: "scalar", Shape: []int{2}}
	payload := encodeHeader(h)
	// Replace the trailing node count with one past the limit
	payload = binary.AppendUvarint(payload[:len(payload)-1], maxNodes+1)

	var buf bytes.Buffer
	require.NoError(t, NewFrameWriter(&buf).WriteFrame(OpHeader, payload))
	_, err := Read(&buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestSnapshotNodeCountIsNotTrusted(t *testing.T) {
	h := Header{Version: FormatVersion, Precision: Float64, Kind: "scalar", Shape: []int{2}, Nodes: maxNodes}
	var buf bytes.Buffer
	require.NoError(t, NewFrameWriter(&buf).WriteFrame(OpHeader, encodeHeader(h)))
	require.NoError(t, NewFrameWriter(&buf).WriteFrame(OpRoot, Float64.appendEdge(nil, Edge{W: []complex128{1}})))

	_, err := Read(&buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

package persistence

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Write encodes s as a frame stream.
func Write(w io.Writer, s Snapshot) error {
	fw := NewFrameWriter(w)
	h := s.Header
	h.Version = FormatVersion
	h.Nodes = len(s.Nodes)
	if err := fw.WriteFrame(OpHeader, encodeHeader(h)); err != nil {
		return err
	}
	for _, n := range s.Nodes {
		if err := fw.WriteFrame(OpNode, h.Precision.encodeNode(n)); err != nil {
			return err
		}
	}
	return fw.WriteFrame(OpRoot, h.Precision.appendEdge(nil, s.Root))
}

// Read decodes a frame stream written by Write.
func Read(r io.Reader) (Snapshot, error) {
	var s Snapshot

	op, payload, _, err := ReadFrame(r)
	if err != nil {
		return s, fmt.Errorf("reading header: %w", err)
	}
	if op != OpHeader {
		return s, fmt.Errorf("%w: expected header frame, got opcode %#x", ErrCorrupt, op)
	}
	if s.Header, err = decodeHeader(payload); err != nil {
		return s, fmt.Errorf("decoding header: %w", err)
	}
	if s.Header.Version != FormatVersion {
		return s, fmt.Errorf("%w: format version %d", ErrCorrupt, s.Header.Version)
	}

	prec := s.Header.Precision
	// The count is untrusted until the frames are read
	s.Nodes = make([]Node, 0, min(s.Header.Nodes, 1<<16))
	for {
		op, payload, _, err := ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return s, fmt.Errorf("%w: missing root frame", ErrIncompleteFrame)
		}
		if err != nil {
			return s, fmt.Errorf("reading frame %d: %w", len(s.Nodes)+1, err)
		}
		switch op {
		case OpNode:
			n, err := prec.decodeNode(payload)
			if err != nil {
				return s, fmt.Errorf("decoding node frame %d: %w", len(s.Nodes)+1, err)
			}
			s.Nodes = append(s.Nodes, n)
		case OpRoot:
			if s.Root, err = prec.decodeRoot(payload); err != nil {
				return s, fmt.Errorf("decoding root: %w", err)
			}
			if len(s.Nodes) != s.Header.Nodes {
				return s, fmt.Errorf("%w: header announces %d nodes, found %d", ErrCorrupt, s.Header.Nodes, len(s.Nodes))
			}
			return s, nil
		default:
			return s, fmt.Errorf("%w: unknown opcode %#x", ErrCorrupt, op)
		}
	}
}

// WriteFile writes s to path atomically: the snapshot is written to a
// temporary file in the same directory, synced, and renamed over path.
func WriteFile(path string, s Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)
	if err := Write(buf, s); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// ReadFile decodes the snapshot stored at path. The file is memory-mapped
// for the duration of the decode.
func ReadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Snapshot{}, err
	}
	if info.Size() == 0 {
		return Snapshot{}, fmt.Errorf("%s: %w", path, ErrIncompleteFrame)
	}

	data, err := mmapFile(f, int(info.Size()))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to map snapshot: %w", err)
	}
	defer munmapFile(data)

	// Decoded values are copies; nothing refers to data after Read returns
	return Read(bytes.NewReader(data))
}

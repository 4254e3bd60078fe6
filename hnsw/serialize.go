package hnsw

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/hupe1980/veccodec/internal/compress"
)

// WriteGraph encodes g as a stream of uvarints compressed in blocks of type
// t. Neighbor lists are written sorted and delta coded. It returns the
// number of bytes written to w.
//
// Layout before compression:
//
//	size numLevels entry+1 maxConn
//	for each level >= 1: count, delta coded nodes
//	for each level, for each node on it: count, delta coded neighbors
func WriteGraph(w io.Writer, g Graph, t compress.Type) (int64, error) {
	cw := compress.NewWriter(w, t, compress.DefaultBlockSize)
	enc := &uvarintWriter{w: cw}

	numLevels := g.NumLevels()
	enc.put(uint64(g.Size()))
	enc.put(uint64(numLevels))
	enc.put(uint64(g.EntryNode() + 1))
	enc.put(uint64(g.MaxConn()))

	levelNodes := make([][]int32, numLevels)
	for level := range numLevels {
		levelNodes[level] = g.NodesOnLevel(level)
		if level == 0 {
			if len(levelNodes[0]) != g.Size() {
				return 0, fmt.Errorf("%w: level 0 holds %d of %d nodes", ErrCorruptGraph, len(levelNodes[0]), g.Size())
			}
			continue
		}
		enc.putDeltas(levelNodes[level])
	}

	var sorted []int32
	for level := range numLevels {
		for _, node := range levelNodes[level] {
			nbrs, err := g.Neighbors(level, int(node))
			if err != nil {
				return 0, err
			}
			sorted = append(sorted[:0], nbrs...)
			slices.Sort(sorted)
			enc.putDeltas(sorted)
		}
		if enc.err != nil {
			return 0, enc.err
		}
	}
	if enc.err != nil {
		return 0, enc.err
	}
	if err := cw.Flush(); err != nil {
		return 0, err
	}
	return cw.BytesWritten(), nil
}

type uvarintWriter struct {
	w   io.Writer
	buf [binary.MaxVarintLen64]byte
	err error
}

func (e *uvarintWriter) put(v uint64) {
	if e.err != nil {
		return
	}
	n := binary.PutUvarint(e.buf[:], v)
	_, e.err = e.w.Write(e.buf[:n])
}

// putDeltas writes the length of a sorted list followed by its gaps.
func (e *uvarintWriter) putDeltas(nodes []int32) {
	e.put(uint64(len(nodes)))
	prev := int32(0)
	for _, n := range nodes {
		e.put(uint64(n - prev))
		prev = n
	}
}

// ReadGraph decodes a graph written by WriteGraph.
func ReadGraph(data []byte, t compress.Type) (*FrozenGraph, error) {
	raw, err := compress.DecodeAll(data, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptGraph, err)
	}
	dec := &uvarintReader{buf: raw}

	size := dec.int()
	numLevels := dec.int()
	entry := dec.int() - 1
	maxConn := dec.int()
	if dec.err != nil {
		return nil, dec.err
	}
	switch {
	case size < 0 || numLevels > maxLevel+1:
		return nil, fmt.Errorf("%w: size %d with %d levels", ErrCorruptGraph, size, numLevels)
	case size == 0 && (numLevels != 0 || entry != -1):
		return nil, fmt.Errorf("%w: empty graph with entry %d", ErrCorruptGraph, entry)
	case size > 0 && (numLevels == 0 || entry < 0 || entry >= size):
		return nil, fmt.Errorf("%w: entry %d of %d nodes", ErrCorruptGraph, entry, size)
	case maxConn < minM || maxConn > MaxM:
		return nil, fmt.Errorf("%w: max connections %d", ErrCorruptGraph, maxConn)
	}

	g := &FrozenGraph{size: size, maxConn: maxConn, entry: entry, levels: make([]frozenLevel, numLevels)}
	for level := 1; level < numLevels; level++ {
		nodes, err := dec.deltas(size, size)
		if err != nil {
			return nil, err
		}
		g.levels[level].nodes = nodes
	}
	if numLevels > 1 {
		if _, found := slices.BinarySearch(g.levels[numLevels-1].nodes, int32(entry)); !found {
			return nil, fmt.Errorf("%w: entry %d not on top level", ErrCorruptGraph, entry)
		}
	}

	for level := range numLevels {
		l := &g.levels[level]
		count := size
		if level > 0 {
			count = len(l.nodes)
		}
		l.offsets = make([]int32, 1, count+1)
		for range count {
			nbrs, err := dec.deltas(maxConnOnLevel(maxConn, level), size)
			if err != nil {
				return nil, err
			}
			if level > 0 {
				for _, n := range nbrs {
					if _, found := slices.BinarySearch(l.nodes, n); !found {
						return nil, fmt.Errorf("%w: neighbor %d not on level %d", ErrCorruptGraph, n, level)
					}
				}
			}
			l.neighbors = append(l.neighbors, nbrs...)
			l.offsets = append(l.offsets, int32(len(l.neighbors)))
		}
	}
	if len(dec.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptGraph, len(dec.buf))
	}
	return g, nil
}

type uvarintReader struct {
	buf []byte
	err error
}

func (d *uvarintReader) int() int {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 || v > 1<<31 {
		d.err = fmt.Errorf("%w: bad varint", ErrCorruptGraph)
		return 0
	}
	d.buf = d.buf[n:]
	return int(v)
}

// deltas reads a sorted list of at most maxLen ordinals below limit.
func (d *uvarintReader) deltas(maxLen, limit int) ([]int32, error) {
	n := d.int()
	if d.err != nil {
		return nil, d.err
	}
	if n > maxLen {
		return nil, fmt.Errorf("%w: list of %d exceeds %d", ErrCorruptGraph, n, maxLen)
	}
	out := make([]int32, n)
	prev := 0
	for i := range out {
		v := prev + d.int()
		if d.err != nil {
			return nil, d.err
		}
		if v >= limit || (i > 0 && v == prev) {
			return nil, fmt.Errorf("%w: ordinal %d out of order or range", ErrCorruptGraph, v)
		}
		out[i] = int32(v)
		prev = v
	}
	return out, nil
}

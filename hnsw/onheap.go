package hnsw

import (
	"slices"
	"sync"
	"sync/atomic"
)

const lockStripes = 512

// OnHeapGraph is a mutable graph used while building. Neighbor arrays are
// guarded by striped per-node locks and the entry point is promoted
// atomically, so several builders may insert concurrently.
type OnHeapGraph struct {
	m     int
	nodes []nodeLevels
	locks [lockStripes]sync.RWMutex
	// entry packs level<<32 | node; -1 means empty.
	entry atomic.Int64
	added atomic.Int64

	levelMu sync.Mutex
	upper   [][]int32
}

// nodeLevels holds one NeighborArray per level the node reaches.
type nodeLevels []*NeighborArray

var _ Graph = (*OnHeapGraph)(nil)

// NewOnHeapGraph creates an empty graph for ordinals [0, size).
func NewOnHeapGraph(m, size int) *OnHeapGraph {
	g := &OnHeapGraph{m: m, nodes: make([]nodeLevels, size)}
	g.entry.Store(-1)
	return g
}

func packEntry(node, level int) int64 { return int64(level)<<32 | int64(uint32(node)) }

func unpackEntry(v int64) (node, level int) {
	if v < 0 {
		return -1, -1
	}
	return int(uint32(v)), int(v >> 32)
}

// Size returns the number of ordinals the graph was created for.
func (g *OnHeapGraph) Size() int { return len(g.nodes) }

// Added returns the number of nodes inserted so far.
func (g *OnHeapGraph) Added() int { return int(g.added.Load()) }

func (g *OnHeapGraph) MaxConn() int { return g.m }

func (g *OnHeapGraph) EntryNode() int {
	node, _ := unpackEntry(g.entry.Load())
	return node
}

// entryPoint returns the entry node and its level.
func (g *OnHeapGraph) entryPoint() (int, int) {
	return unpackEntry(g.entry.Load())
}

func (g *OnHeapGraph) NumLevels() int {
	_, level := unpackEntry(g.entry.Load())
	return level + 1
}

// AddNode makes node present on levels [0, level] with empty neighbor
// arrays. It must be called once per node, before any link to it exists.
func (g *OnHeapGraph) AddNode(level, node int) {
	levels := make(nodeLevels, level+1)
	for l := range levels {
		levels[l] = NewNeighborArray(maxConnOnLevel(g.m, l) + 1)
	}
	lock := g.lock(node)
	lock.Lock()
	g.nodes[node] = levels
	lock.Unlock()

	if level > 0 {
		g.levelMu.Lock()
		for len(g.upper) < level {
			g.upper = append(g.upper, nil)
		}
		for l := 1; l <= level; l++ {
			g.upper[l-1] = append(g.upper[l-1], int32(node))
		}
		g.levelMu.Unlock()
	}
	g.added.Add(1)
}

// tryPromoteEntry makes node the entry point when its level exceeds the
// current entry level, or when the graph has no entry yet.
func (g *OnHeapGraph) tryPromoteEntry(node, level int) bool {
	for {
		cur := g.entry.Load()
		_, curLevel := unpackEntry(cur)
		if cur >= 0 && level <= curLevel {
			return false
		}
		if g.entry.CompareAndSwap(cur, packEntry(node, level)) {
			return true
		}
	}
}

func (g *OnHeapGraph) lock(node int) *sync.RWMutex {
	return &g.locks[node%lockStripes]
}

// levelOf returns the top level of node, or -1 when it was not added.
func (g *OnHeapGraph) levelOf(node int) int {
	lock := g.lock(node)
	lock.RLock()
	defer lock.RUnlock()
	return len(g.nodes[node]) - 1
}

func (g *OnHeapGraph) NodesOnLevel(level int) []int32 {
	if level == 0 {
		out := make([]int32, 0, g.Added())
		for node := range g.nodes {
			if g.levelOf(node) >= 0 {
				out = append(out, int32(node))
			}
		}
		return out
	}
	g.levelMu.Lock()
	defer g.levelMu.Unlock()
	if level < 1 || level > len(g.upper) {
		return nil
	}
	out := slices.Clone(g.upper[level-1])
	slices.Sort(out)
	return out
}

// Neighbors returns a copy of the neighbor list.
func (g *OnHeapGraph) Neighbors(level, node int) ([]int32, error) {
	return g.appendNeighbors(nil, level, node)
}

// appendNeighbors appends the neighbors of node to dst under its read lock.
func (g *OnHeapGraph) appendNeighbors(dst []int32, level, node int) ([]int32, error) {
	if node < 0 || node >= len(g.nodes) {
		return dst, notOnLevel(level, node)
	}
	lock := g.lock(node)
	lock.RLock()
	defer lock.RUnlock()
	levels := g.nodes[node]
	if level < 0 || level >= len(levels) {
		return dst, notOnLevel(level, node)
	}
	return append(dst, levels[level].nodes...), nil
}

// withNeighbors runs fn on the neighbor array of node while holding its
// write lock.
func (g *OnHeapGraph) withNeighbors(level, node int, fn func(a *NeighborArray) error) error {
	lock := g.lock(node)
	lock.Lock()
	defer lock.Unlock()
	levels := g.nodes[node]
	if level >= len(levels) {
		return notOnLevel(level, node)
	}
	return fn(levels[level])
}

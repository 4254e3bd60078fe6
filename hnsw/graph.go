package hnsw

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrNodeNotOnLevel is returned when the neighbors of a node are
	// requested on a level the node does not reach.
	ErrNodeNotOnLevel = errors.New("hnsw: node not on level")

	// ErrInvalidM is returned for a maximum connection count outside [2, MaxM].
	ErrInvalidM = errors.New("hnsw: invalid M")

	// ErrInvalidBeamWidth is returned for a beam width outside [1, MaxBeamWidth].
	ErrInvalidBeamWidth = errors.New("hnsw: invalid beam width")

	// ErrCorruptGraph is returned when serialized graph data is inconsistent.
	ErrCorruptGraph = errors.New("hnsw: corrupt graph")
)

// Graph is a read-only view of a hierarchical graph over ordinals
// [0, Size()).
type Graph interface {
	// Size returns the number of nodes.
	Size() int
	// NumLevels returns the number of levels. An empty graph has none.
	NumLevels() int
	// EntryNode returns the node search starts from, or -1 when empty.
	EntryNode() int
	// MaxConn returns M. Level 0 allows 2*M neighbors.
	MaxConn() int
	// NodesOnLevel returns the sorted nodes present on level.
	NodesOnLevel(level int) []int32
	// Neighbors returns the neighbors of node on level. Callers must not
	// modify the result.
	Neighbors(level, node int) ([]int32, error)
}

// maxConnOnLevel returns the neighbor capacity of a level.
func maxConnOnLevel(m, level int) int {
	if level == 0 {
		return 2 * m
	}
	return m
}

func notOnLevel(level, node int) error {
	return fmt.Errorf("%w: node %d, level %d", ErrNodeNotOnLevel, node, level)
}

// FrozenGraph is an immutable graph in compressed sparse row layout. It is
// safe for concurrent use.
type FrozenGraph struct {
	size    int
	maxConn int
	entry   int
	levels  []frozenLevel
}

type frozenLevel struct {
	// nodes is nil on level 0, where every ordinal is present.
	nodes     []int32
	offsets   []int32
	neighbors []int32
}

var _ Graph = (*FrozenGraph)(nil)

func (g *FrozenGraph) Size() int      { return g.size }
func (g *FrozenGraph) NumLevels() int { return len(g.levels) }
func (g *FrozenGraph) EntryNode() int { return g.entry }
func (g *FrozenGraph) MaxConn() int   { return g.maxConn }

func (g *FrozenGraph) NodesOnLevel(level int) []int32 {
	if level < 0 || level >= len(g.levels) {
		return nil
	}
	if level == 0 {
		return allNodes(g.size)
	}
	return g.levels[level].nodes
}

func (g *FrozenGraph) Neighbors(level, node int) ([]int32, error) {
	if level < 0 || level >= len(g.levels) || node < 0 || node >= g.size {
		return nil, notOnLevel(level, node)
	}
	l := &g.levels[level]
	idx := node
	if level > 0 {
		i, found := slices.BinarySearch(l.nodes, int32(node))
		if !found {
			return nil, notOnLevel(level, node)
		}
		idx = i
	}
	start, end := l.offsets[idx], l.offsets[idx+1]
	return l.neighbors[start:end:end], nil
}

func allNodes(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out
}

// Freeze copies any graph into a FrozenGraph with neighbor lists sorted by
// ordinal.
func Freeze(g Graph) (*FrozenGraph, error) {
	if fg, ok := g.(*FrozenGraph); ok {
		return fg, nil
	}
	fg := &FrozenGraph{
		size:    g.Size(),
		maxConn: g.MaxConn(),
		entry:   g.EntryNode(),
		levels:  make([]frozenLevel, g.NumLevels()),
	}
	for level := range fg.levels {
		nodes := g.NodesOnLevel(level)
		if level == 0 && len(nodes) != fg.size {
			return nil, fmt.Errorf("%w: level 0 holds %d of %d nodes", ErrCorruptGraph, len(nodes), fg.size)
		}
		l := frozenLevel{offsets: make([]int32, 0, len(nodes)+1)}
		if level > 0 {
			l.nodes = slices.Clone(nodes)
		}
		l.offsets = append(l.offsets, 0)
		for _, node := range nodes {
			nbrs, err := g.Neighbors(level, int(node))
			if err != nil {
				return nil, err
			}
			start := len(l.neighbors)
			l.neighbors = append(l.neighbors, nbrs...)
			slices.Sort(l.neighbors[start:])
			l.offsets = append(l.offsets, int32(len(l.neighbors)))
		}
		fg.levels[level] = l
	}
	return fg, nil
}

// Stats summarizes the shape of a graph.
type Stats struct {
	Nodes int
	// NodesPerLevel and AvgConnections are indexed by level.
	NodesPerLevel  []int
	AvgConnections []float64
}

// GraphStats walks g and reports its level sizes and mean degree.
func GraphStats(g Graph) (Stats, error) {
	s := Stats{
		Nodes:          g.Size(),
		NodesPerLevel:  make([]int, g.NumLevels()),
		AvgConnections: make([]float64, g.NumLevels()),
	}
	for level := range g.NumLevels() {
		nodes := g.NodesOnLevel(level)
		s.NodesPerLevel[level] = len(nodes)
		total := 0
		for _, node := range nodes {
			nbrs, err := g.Neighbors(level, int(node))
			if err != nil {
				return Stats{}, err
			}
			total += len(nbrs)
		}
		if len(nodes) > 0 {
			s.AvgConnections[level] = float64(total) / float64(len(nodes))
		}
	}
	return s, nil
}

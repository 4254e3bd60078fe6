package hnsw

import (
	"context"
	"slices"

	"github.com/hupe1980/veccodec/scorer"
)

// GraphProvider is implemented by readers that store a graph per field.
// Graph returns nil and no error when the field is not vector indexed in
// the segment.
type GraphProvider interface {
	Graph(field string) (Graph, error)
}

// IncrementalMerger builds the graph of a merged field. When one of the
// inputs kept all of its vectors its graph is copied and only the vectors
// of the other inputs are inserted.
type IncrementalMerger struct {
	supplier scorer.RandomVectorScorerSupplier
	workers  int
	optFns   []func(o *Options)
	initial  *InitialGraph
}

// NewIncrementalMerger creates a merger over the merged vectors of supplier.
func NewIncrementalMerger(supplier scorer.RandomVectorScorerSupplier, workers int, optFns ...func(o *Options)) *IncrementalMerger {
	return &IncrementalMerger{supplier: supplier, workers: workers, optFns: optFns}
}

// AddGraph offers the graph of one input. oldToNew maps its ordinals to
// merged ordinals, -1 for dropped ones. Graphs that lost ordinals are not
// reused; of the others the largest wins.
func (m *IncrementalMerger) AddGraph(g Graph, oldToNew []int32) {
	if g == nil || g.Size() == 0 || len(oldToNew) != g.Size() || slices.Contains(oldToNew, -1) {
		return
	}
	if m.initial != nil && m.initial.Graph.Size() >= g.Size() {
		return
	}
	m.initial = &InitialGraph{Graph: g, OldToNew: oldToNew}
}

// Initialized reports whether an input graph will be reused.
func (m *IncrementalMerger) Initialized() bool { return m.initial != nil }

// Build builds the merged graph over size ordinals.
func (m *IncrementalMerger) Build(ctx context.Context, size int) (*OnHeapGraph, error) {
	optFns := m.optFns
	if m.initial != nil {
		initial := m.initial
		optFns = append(slices.Clone(optFns), func(o *Options) { o.Initial = initial })
	}
	b, err := NewConcurrentBuilder(m.supplier, m.workers, optFns...)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, size)
}

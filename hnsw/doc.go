// Package hnsw builds and searches Hierarchical Navigable Small World graphs
// over vector ordinals.
//
// The package never sees vectors. Building and searching go through
// scorer.RandomVectorScorerSupplier and scorer.RandomVectorScorer, so the
// same code serves raw float, byte and scalar quantized vectors.
//
// # Building
//
//	b, err := hnsw.NewBuilder(supplier, func(o *hnsw.Options) {
//		o.M = 16
//		o.BeamWidth = 100
//	})
//	graph, err := b.Build(ctx, n)
//
// A ConcurrentBuilder shares one OnHeapGraph between several workers. Node
// levels are drawn up front from the seeded generator, so the level
// structure does not depend on scheduling.
//
// # Searching
//
//	top, err := hnsw.Search(ctx, queryScorer, k, ef, graph, nil, math.MaxInt)
//
// Results are ordered by score descending and ordinal ascending on ties.
//
// # Persistence
//
// WriteGraph encodes any Graph as per level node lists followed by delta
// encoded neighbor lists, optionally block compressed with LZ4 or ZSTD.
// ReadGraph decodes it into an immutable FrozenGraph.
package hnsw

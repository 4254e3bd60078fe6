package hnswvec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/hnsw"
	"github.com/hupe1980/veccodec/internal/compress"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/vectors"
)

// DefaultEf is the level 0 candidate list size of searches that set none.
const DefaultEf = 100

// SearchOptions tunes one search.
type SearchOptions struct {
	// Ef is the candidate list size. Values below k are raised to k; zero
	// means DefaultEf.
	Ef int
	// Filter restricts hits to these documents. Nil admits every document.
	Filter *roaring.Bitmap
	// VisitLimit caps the number of scored vectors of the graph search.
	// Zero means no limit. A filtered search also stops after visiting as
	// many vectors as the filter accepts and then scores the accepted
	// vectors exhaustively.
	VisitLimit int
}

type graphEntry struct {
	info  codec.FieldInfo
	graph *hnsw.FrozenGraph
}

// Reader opens the graphs of a segment and answers nearest neighbor
// queries. Vector access is delegated to the flat reader.
type Reader struct {
	flat    codec.FlatVectorsReader
	segment string
	logger  *slog.Logger
	metrics codec.MetricsCollector
	graphs  map[string]*graphEntry
}

var (
	_ codec.FlatVectorsReader = (*Reader)(nil)
	_ hnsw.GraphProvider      = (*Reader)(nil)
)

// Open opens the flat files and loads every graph of the segment.
func Open(ctx context.Context, state *codec.SegmentReadState, f Format) (*Reader, error) {
	fr, err := f.flatFormat().NewReader(ctx, state)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		flat:    fr,
		segment: state.Segment,
		logger:  codec.LoggerOrDiscard(state.Logger),
		metrics: codec.MetricsOrNoop(state.Metrics),
		graphs:  make(map[string]*graphEntry),
	}
	if err := r.loadGraphs(ctx, state); err != nil {
		_ = fr.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) loadGraphs(ctx context.Context, state *codec.SegmentReadState) error {
	metaName := codec.FileName(state.Segment, MetaExtension)
	meta, err := codec.OpenInput(ctx, state.Store, metaName, metaCodec, versionStart, versionCurrent, state.Segment)
	if err != nil {
		return err
	}
	defer meta.Close()
	if err := meta.CheckIntegrity(ctx); err != nil {
		return err
	}
	body, err := meta.ReadBody(ctx)
	if err != nil {
		return err
	}

	index, err := codec.OpenInput(ctx, state.Store, codec.FileName(state.Segment, IndexExtension), indexCodec, versionStart, versionCurrent, state.Segment)
	if err != nil {
		return err
	}
	defer index.Close()
	if err := index.CheckIntegrity(ctx); err != nil {
		return err
	}

	br := codec.NewByteReader(metaName, body)
	for {
		number := br.Int32()
		if br.Err() != nil {
			return br.Err()
		}
		if number == -1 {
			break
		}
		name := br.ShortString()
		ct := compress.Type(br.Byte())
		size := int(br.Uint32())
		offset := int64(br.Uint64())
		length := int64(br.Uint64())
		if br.Err() != nil {
			return br.Err()
		}

		info, err := r.flat.FieldInfo(name)
		if err != nil {
			return codec.Corruptf(metaName, "graph of field %s has no vectors", name)
		}
		if info.Number != int(number) {
			return codec.Corruptf(metaName, "field %s has number %d, vectors say %d", name, number, info.Number)
		}
		if offset < index.HeaderLength || length < 0 || offset+length > index.BodyEnd() {
			return codec.Corruptf(metaName, "field %s graph section [%d, %d) invalid", name, offset, offset+length)
		}
		data, err := blobstore.ReadFull(ctx, index.Blob, offset, length)
		if err != nil {
			return codec.WrapIO("read", index.Name, err)
		}
		g, err := hnsw.ReadGraph(data, ct)
		if err != nil {
			return codec.Corruptf(index.Name, "field %s: %v", name, err)
		}
		docs, err := r.flat.Docs(name)
		if err != nil {
			return err
		}
		if g.Size() != size || size != docs.Cardinality() {
			return codec.Corruptf(metaName, "field %s graph has %d nodes for %d vectors", name, g.Size(), docs.Cardinality())
		}
		r.graphs[name] = &graphEntry{info: info, graph: g}
	}
	if br.Len() != 0 {
		return codec.Corruptf(metaName, "%d trailing bytes", br.Len())
	}
	return nil
}

// Graph returns the graph of field, or nil when the segment has no graph
// for it, including when it has no vectors for it.
func (r *Reader) Graph(field string) (hnsw.Graph, error) {
	e, ok := r.graphs[field]
	if !ok {
		return nil, nil
	}
	return e.graph, nil
}

// Search returns the k nearest documents of field to target.
func (r *Reader) Search(ctx context.Context, field string, target []float32, k int, optFns ...func(o *SearchOptions)) (*hnsw.TopDocs, error) {
	sc, err := r.flat.RandomVectorScorer(field, target)
	if err != nil {
		return nil, err
	}
	return r.search(ctx, field, sc, k, optFns)
}

// SearchBytes is Search for byte encoded fields.
func (r *Reader) SearchBytes(ctx context.Context, field string, target []byte, k int, optFns ...func(o *SearchOptions)) (*hnsw.TopDocs, error) {
	sc, err := r.flat.RandomVectorScorerForBytes(field, target)
	if err != nil {
		return nil, err
	}
	return r.search(ctx, field, sc, k, optFns)
}

func (r *Reader) search(ctx context.Context, field string, sc scorer.RandomVectorScorer, k int, optFns []func(o *SearchOptions)) (*hnsw.TopDocs, error) {
	opts := SearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Ef <= 0 {
		opts.Ef = DefaultEf
	}
	start := time.Now()
	td, err := r.doSearch(ctx, field, sc, k, opts)
	visited := 0
	if td != nil {
		visited = td.Visited
	}
	r.metrics.RecordSearch(field, k, visited, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("searched field",
		slog.String("segment", r.segment),
		slog.String("field", field),
		slog.Int("k", k),
		slog.Int("hits", len(td.ScoreDocs)),
		slog.Int("visited", td.Visited),
	)
	return td, nil
}

func (r *Reader) doSearch(ctx context.Context, field string, sc scorer.RandomVectorScorer, k int, opts SearchOptions) (*hnsw.TopDocs, error) {
	if k <= 0 {
		return &hnsw.TopDocs{}, nil
	}
	var g hnsw.Graph
	if e, ok := r.graphs[field]; ok {
		g = e.graph
	}
	visitLimit := hnsw.NoVisitLimit
	if opts.VisitLimit > 0 {
		visitLimit = opts.VisitLimit
	}

	var accept func(ord int) bool
	if opts.Filter != nil {
		docs, err := r.flat.Docs(field)
		if err != nil {
			return nil, err
		}
		ords := docs.AcceptedOrds(opts.Filter)
		accept = func(ord int) bool { return ords.Contains(uint32(ord)) }
		accepted := int(ords.GetCardinality())
		// Few accepted vectors are cheaper to score than to find.
		if accepted <= k {
			return hnsw.ExhaustiveSearch(ctx, sc, k, accept)
		}
		visitLimit = min(visitLimit, accepted)
	}
	if g == nil {
		return hnsw.ExhaustiveSearch(ctx, sc, k, accept)
	}

	td, err := hnsw.Search(ctx, sc, k, opts.Ef, g, accept, visitLimit)
	if err != nil || !td.Incomplete || accept == nil {
		return td, err
	}
	exact, err := hnsw.ExhaustiveSearch(ctx, sc, k, accept)
	if err != nil {
		return nil, err
	}
	exact.Visited += td.Visited
	return exact, nil
}

func (r *Reader) Fields() []codec.FieldInfo { return r.flat.Fields() }

func (r *Reader) FieldInfo(field string) (codec.FieldInfo, error) { return r.flat.FieldInfo(field) }

func (r *Reader) Docs(field string) (*vectors.DocsWithFieldSet, error) { return r.flat.Docs(field) }

func (r *Reader) FloatVectorValues(field string) (vectors.FloatVectorValues, error) {
	return r.flat.FloatVectorValues(field)
}

func (r *Reader) ByteVectorValues(field string) (vectors.ByteVectorValues, error) {
	return r.flat.ByteVectorValues(field)
}

func (r *Reader) RandomVectorScorer(field string, target []float32) (scorer.RandomVectorScorer, error) {
	return r.flat.RandomVectorScorer(field, target)
}

func (r *Reader) RandomVectorScorerForBytes(field string, target []byte) (scorer.RandomVectorScorer, error) {
	return r.flat.RandomVectorScorerForBytes(field, target)
}

func (r *Reader) RandomVectorScorerSupplier(field string) (scorer.RandomVectorScorerSupplier, error) {
	return r.flat.RandomVectorScorerSupplier(field)
}

// MergeInstance returns the flat reader's merge instance. Graphs are read
// through the Reader itself.
func (r *Reader) MergeInstance() codec.FlatVectorsReader { return r.flat.MergeInstance() }

func (r *Reader) CheckIntegrity(ctx context.Context) error { return r.flat.CheckIntegrity(ctx) }

func (r *Reader) Close() error { return r.flat.Close() }

// ErrNoGraph is returned by Stats for fields without a graph.
var ErrNoGraph = errors.New("hnswvec: field has no graph")

// Stats describes the graph of field.
func (r *Reader) Stats(field string) (hnsw.Stats, error) {
	g, err := r.Graph(field)
	if err != nil {
		return hnsw.Stats{}, err
	}
	if g == nil {
		return hnsw.Stats{}, fmt.Errorf("%w: %s", ErrNoGraph, field)
	}
	return hnsw.GraphStats(g)
}

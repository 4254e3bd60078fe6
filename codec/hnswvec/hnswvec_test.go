package hnswvec

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/codec/sq"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/hnsw"
	"github.com/hupe1980/veccodec/internal/resource"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recallThreshold = 0.9

var field = codec.FieldInfo{Name: "emb", Number: 1, Dimension: 128, Encoding: distance.Float32, Similarity: distance.Euclidean}

func writeSegment(t *testing.T, store blobstore.Store, segment string, f Format, fi codec.FieldInfo, data [][]float32, firstDoc int) {
	t.Helper()
	ctx := context.Background()
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: segment}, f)
	require.NoError(t, err)
	fw, err := w.AddField(fi)
	require.NoError(t, err)
	for i, vec := range data {
		require.NoError(t, fw.AddFloat(firstDoc+i, vec))
	}
	require.NoError(t, w.Flush(ctx, firstDoc+len(data)))
	require.NoError(t, w.Finish(ctx))
	require.NoError(t, w.Close())
}

func openSegment(t *testing.T, store blobstore.Store, segment string, f Format) *Reader {
	t.Helper()
	r, err := Open(context.Background(), &codec.SegmentReadState{Store: store, Segment: segment}, f)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func hits(td *hnsw.TopDocs) []testutil.SearchResult {
	out := make([]testutil.SearchResult, len(td.ScoreDocs))
	for i, sd := range td.ScoreDocs {
		out[i] = testutil.SearchResult{Ord: sd.Doc, Score: sd.Score}
	}
	return out
}

func meanRecall(t *testing.T, r *Reader, data, queries [][]float32) float64 {
	t.Helper()
	total := 0.0
	for _, q := range queries {
		td, err := r.Search(context.Background(), "emb", q, 10)
		require.NoError(t, err)
		total += testutil.ComputeRecall(testutil.ExactTopK(data, q, 10, distance.Euclidean), hits(td))
	}
	return total / float64(len(queries))
}

// deleteCounter counts deletes of temporary blobs.
type deleteCounter struct {
	blobstore.Store
	mu      sync.Mutex
	deletes map[string]int
}

func (s *deleteCounter) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.deletes == nil {
		s.deletes = make(map[string]int)
	}
	s.deletes[name]++
	s.mu.Unlock()
	return s.Store.Delete(ctx, name)
}

// cancelOnMerge cancels a context once the flat merge completed.
type cancelOnMerge struct {
	codec.NoopMetricsCollector
	cancel context.CancelFunc
}

func (c cancelOnMerge) RecordMerge(string, int, bool, time.Duration, error) { c.cancel() }

func TestFormatValidation(t *testing.T) {
	ctx := context.Background()
	state := &codec.SegmentWriteState{Store: blobstore.NewMemoryStore(), Segment: "_0"}

	_, err := NewWriter(ctx, state, NewFormat(func(f *Format) { f.M = 1 }))
	assert.ErrorIs(t, err, hnsw.ErrInvalidM)

	_, err = NewWriter(ctx, state, NewFormat(func(f *Format) { f.BeamWidth = hnsw.MaxBeamWidth + 1 }))
	assert.ErrorIs(t, err, hnsw.ErrInvalidBeamWidth)

	_, err = NewWriter(ctx, state, NewFormat(func(f *Format) { f.Compression = Compression(9) }))
	assert.Error(t, err)

	names, err := state.Store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)
}

// 1,000 random 128 dimensional vectors, Euclidean, M=16, beam width 100.
func TestSelfQueryRanksFirst(t *testing.T) {
	store := blobstore.NewMemoryStore()
	data := testutil.NewRNG(42).UniformVectors(1000, 128)
	f := NewFormat(func(f *Format) {
		f.M = 16
		f.BeamWidth = 100
	})
	writeSegment(t, store, "_0", f, field, data, 0)

	r := openSegment(t, store, "_0", f)
	require.NoError(t, r.CheckIntegrity(context.Background()))

	td, err := r.Search(context.Background(), "emb", data[42], 10)
	require.NoError(t, err)
	require.Len(t, td.ScoreDocs, 10)
	assert.Equal(t, 42, td.ScoreDocs[0].Ord)
	assert.Equal(t, 42, td.ScoreDocs[0].Doc)
	assert.Equal(t, float32(1), td.ScoreDocs[0].Score)

	queries := testutil.NewRNG(43).UniformVectors(20, 128)
	assert.GreaterOrEqual(t, meanRecall(t, r, data, queries), recallThreshold)

	stats, err := r.Stats("emb")
	require.NoError(t, err)
	assert.Equal(t, 1000, stats.Nodes)
}

func TestQuantizedSelfQueryRanksFirst(t *testing.T) {
	store := blobstore.NewMemoryStore()
	data := testutil.NewRNG(42).UniformVectors(1000, 128)
	f := NewFormat(func(f *Format) { f.Flat = sq.NewFormat(7) })
	writeSegment(t, store, "_0", f, field, data, 0)

	r := openSegment(t, store, "_0", f)
	supplier, err := r.RandomVectorScorerSupplier("emb")
	require.NoError(t, err)
	assert.IsType(t, &scorer.QuantizedSupplier{}, supplier)

	td, err := r.Search(context.Background(), "emb", data[42], 10)
	require.NoError(t, err)
	require.NotEmpty(t, td.ScoreDocs)
	assert.Equal(t, 42, td.ScoreDocs[0].Ord)
}

func TestMergeMatchesScratchGraph(t *testing.T) {
	ctx := context.Background()
	store := &deleteCounter{Store: blobstore.NewMemoryStore()}
	rng := testutil.NewRNG(7)
	a := rng.UniformVectors(500, 128)
	b := rng.UniformVectors(500, 128)
	all := append(append([][]float32{}, a...), b...)
	f := NewFormat(func(f *Format) { f.NumMergeWorkers = 4 })

	writeSegment(t, store, "_0", f, field, a, 0)
	writeSegment(t, store, "_1", f, field, b, 0)
	writeSegment(t, store, "_s", f, field, all, 0)

	ms := &codec.MergeState{Segments: []codec.MergeSegment{
		{Reader: openSegment(t, store, "_0", f), DocMap: codec.NewDocMap(0, nil)},
		{Reader: openSegment(t, store, "_1", f), DocMap: codec.NewDocMap(500, nil)},
	}}
	rc := resource.NewController(resource.Config{MaxBackgroundWorkers: 2})
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_2", Resources: rc}, f)
	require.NoError(t, err)
	require.NoError(t, w.MergeOneField(ctx, field, ms))
	require.NoError(t, w.Finish(ctx))
	require.NoError(t, w.Close())
	assert.Zero(t, rc.MemoryUsage())

	tmp := flat.TempName("_2", "emb")
	assert.Equal(t, 1, store.deletes[tmp])
	names, err := store.List(ctx, "_2")
	require.NoError(t, err)
	assert.NotContains(t, names, tmp)

	merged := openSegment(t, store, "_2", f)
	scratch := openSegment(t, store, "_s", f)
	g, err := merged.Graph("emb")
	require.NoError(t, err)
	assert.Equal(t, 1000, g.Size())

	queries := testutil.NewRNG(8).UniformVectors(20, 128)
	assert.GreaterOrEqual(t, meanRecall(t, merged, all, queries), recallThreshold)

	total := 0.0
	for _, q := range queries {
		want, err := scratch.Search(ctx, "emb", q, 10)
		require.NoError(t, err)
		got, err := merged.Search(ctx, "emb", q, 10)
		require.NoError(t, err)
		total += testutil.ComputeRecall(hits(want), hits(got))
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), recallThreshold)

	td, err := merged.Search(ctx, "emb", b[3], 1)
	require.NoError(t, err)
	assert.Equal(t, 503, td.ScoreDocs[0].Doc)
}

func TestMergeAbortReleasesSupplier(t *testing.T) {
	store := &deleteCounter{Store: blobstore.NewMemoryStore()}
	rng := testutil.NewRNG(9)
	f := NewFormat()
	writeSegment(t, store, "_0", f, field, rng.UniformVectors(200, 128), 0)
	writeSegment(t, store, "_1", f, field, rng.UniformVectors(200, 128), 0)

	ms := &codec.MergeState{Segments: []codec.MergeSegment{
		{Reader: openSegment(t, store, "_0", f), DocMap: codec.NewDocMap(0, nil)},
		{Reader: openSegment(t, store, "_1", f), DocMap: codec.NewDocMap(200, nil)},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_2", Metrics: cancelOnMerge{cancel: cancel}}, f)
	require.NoError(t, err)

	err = w.MergeOneField(ctx, field, ms)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.deletes[flat.TempName("_2", "emb")])

	require.NoError(t, w.Close())
	names, err := store.List(context.Background(), "_2")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMergeWithDeletionsRebuilds(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	rng := testutil.NewRNG(10)
	a := rng.UniformVectors(300, 128)
	b := rng.UniformVectors(100, 128)
	f := NewFormat()
	writeSegment(t, store, "_0", f, field, a, 0)
	writeSegment(t, store, "_1", f, field, b, 0)

	deleted := roaring.New()
	for doc := 0; doc < 300; doc += 3 {
		deleted.Add(uint32(doc))
	}
	ms := &codec.MergeState{Segments: []codec.MergeSegment{
		{Reader: openSegment(t, store, "_0", f), DocMap: codec.NewDocMap(0, deleted), Deleted: deleted},
		{Reader: openSegment(t, store, "_1", f), DocMap: codec.NewDocMap(200, nil)},
	}}
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_2"}, f)
	require.NoError(t, err)
	require.NoError(t, w.MergeOneField(ctx, field, ms))
	require.NoError(t, w.Finish(ctx))

	r := openSegment(t, store, "_2", f)
	g, err := r.Graph("emb")
	require.NoError(t, err)
	assert.Equal(t, 300, g.Size())

	// a[4] was document 4 and moved to 4 - rank of deletions below it
	td, err := r.Search(ctx, "emb", a[4], 1)
	require.NoError(t, err)
	assert.Equal(t, 2, td.ScoreDocs[0].Doc)

	td, err = r.Search(ctx, "emb", b[0], 1)
	require.NoError(t, err)
	assert.Equal(t, 200, td.ScoreDocs[0].Doc)
}

func TestFilteredSearch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	data := testutil.NewRNG(11).UniformVectors(500, 128)
	f := NewFormat()
	writeSegment(t, store, "_0", f, field, data, 0)
	r := openSegment(t, store, "_0", f)

	filter := roaring.New()
	for doc := uint32(0); doc < 500; doc += 3 {
		filter.Add(doc)
	}
	td, err := r.Search(ctx, "emb", data[99], 10, func(o *SearchOptions) { o.Filter = filter })
	require.NoError(t, err)
	require.Len(t, td.ScoreDocs, 10)
	assert.Equal(t, 99, td.ScoreDocs[0].Doc)
	for _, sd := range td.ScoreDocs {
		assert.True(t, filter.Contains(uint32(sd.Doc)))
	}

	// at most k accepted documents are scored exhaustively
	small := roaring.BitmapOf(5, 17, 400)
	td, err = r.Search(ctx, "emb", data[17], 10, func(o *SearchOptions) { o.Filter = small })
	require.NoError(t, err)
	require.Len(t, td.ScoreDocs, 3)
	assert.Equal(t, 17, td.ScoreDocs[0].Doc)
	assert.Equal(t, 3, td.Visited)

	// a tiny visit limit falls back to exact scoring of the filter
	td, err = r.Search(ctx, "emb", data[99], 10, func(o *SearchOptions) {
		o.Filter = filter
		o.VisitLimit = 2
	})
	require.NoError(t, err)
	exact := make([]testutil.SearchResult, 0, filter.GetCardinality())
	for _, doc := range filter.ToArray() {
		exact = append(exact, testutil.SearchResult{Ord: int(doc), Score: distance.Euclidean.Compare(data[99], data[doc])})
	}
	assert.Equal(t, testutil.Ords(testutil.TopK(exact, 10)), testutil.Ords(hits(td)))
}

func TestByteFieldSearch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	fi := codec.FieldInfo{Name: "codes", Dimension: 32, Encoding: distance.Byte, Similarity: distance.Euclidean}
	data := testutil.NewRNG(12).ByteVectors(300, 32)
	f := NewFormat()

	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_0"}, f)
	require.NoError(t, err)
	fw, err := w.AddField(fi)
	require.NoError(t, err)
	for i, vec := range data {
		require.NoError(t, fw.AddBytes(i, vec))
	}
	require.NoError(t, w.Flush(ctx, len(data)))
	require.NoError(t, w.Finish(ctx))

	r := openSegment(t, store, "_0", f)
	q := data[21]
	td, err := r.SearchBytes(ctx, "codes", q, 10)
	require.NoError(t, err)
	want := testutil.ExactTopKBytes(data, q, 10, distance.Euclidean)
	assert.GreaterOrEqual(t, testutil.ComputeRecall(want, hits(td)), recallThreshold)

	_, err = r.Search(ctx, "codes", make([]float32, 32), 10)
	assert.Error(t, err)
}

func TestCompressedGraphs(t *testing.T) {
	data := testutil.NewRNG(13).UniformVectors(400, 128)
	var want []hnsw.ScoreDoc
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			f := NewFormat(func(f *Format) { f.Compression = c })
			writeSegment(t, store, "_0", f, field, data, 0)
			r := openSegment(t, store, "_0", f)

			td, err := r.Search(context.Background(), "emb", data[5], 10)
			require.NoError(t, err)
			if want == nil {
				want = td.ScoreDocs
			}
			assert.Equal(t, want, td.ScoreDocs)
		})
	}
}

func TestGraphProvider(t *testing.T) {
	store := blobstore.NewMemoryStore()
	f := NewFormat()
	writeSegment(t, store, "_0", f, field, testutil.NewRNG(14).UniformVectors(50, 128), 0)
	r := openSegment(t, store, "_0", f)

	var gp hnsw.GraphProvider = r
	g, err := gp.Graph("emb")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, 50, g.Size())

	g, err = gp.Graph("missing")
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = r.Stats("missing")
	assert.ErrorIs(t, err, ErrNoGraph)
}

func TestSearchZeroEfUsesDefault(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	f := NewFormat()
	writeSegment(t, store, "_0", f, field, testutil.NewRNG(16).UniformVectors(1000, 128), 0)
	r := openSegment(t, store, "_0", f)
	query := testutil.NewRNG(17).UniformVectors(1, 128)[0]

	def, err := r.Search(ctx, "emb", query, 10)
	require.NoError(t, err)
	zero, err := r.Search(ctx, "emb", query, 10, func(o *SearchOptions) { o.Ef = 0 })
	require.NoError(t, err)
	explicit, err := r.Search(ctx, "emb", query, 10, func(o *SearchOptions) { o.Ef = DefaultEf })
	require.NoError(t, err)

	assert.Equal(t, explicit.ScoreDocs, def.ScoreDocs)
	assert.Equal(t, explicit.ScoreDocs, zero.ScoreDocs)
	assert.Equal(t, explicit.Visited, zero.Visited)
}

func TestCorruptGraphDetected(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	f := NewFormat()
	writeSegment(t, store, "_0", f, field, testutil.NewRNG(15).UniformVectors(50, 128), 0)

	name := codec.FileName("_0", IndexExtension)
	blob, err := store.Open(ctx, name)
	require.NoError(t, err)
	data, err := blobstore.ReadAll(ctx, blob)
	require.NoError(t, err)
	require.NoError(t, blob.Close())
	data[len(data)-codec.FooterLength-1] ^= 0xff
	require.NoError(t, store.Put(ctx, name, data))

	_, err = Open(ctx, &codec.SegmentReadState{Store: store, Segment: "_0"}, f)
	assert.ErrorIs(t, err, codec.ErrCorruptIndex)
}

func TestCloseWithoutFinishLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_0"}, NewFormat(func(f *Format) { f.Flat = sq.NewFormat(7) }))
	require.NoError(t, err)
	fw, err := w.AddField(field)
	require.NoError(t, err)
	for i, vec := range testutil.NewRNG(16).UniformVectors(20, 128) {
		require.NoError(t, fw.AddFloat(i, vec))
	}
	require.NoError(t, w.Flush(ctx, 20))
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	for _, name := range names {
		assert.False(t, strings.HasPrefix(name, "_0"), name)
	}
}

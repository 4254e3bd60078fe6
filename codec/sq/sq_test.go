package sq

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/quantization"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/testutil"
	"github.com/hupe1980/veccodec/vectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var field = codec.FieldInfo{Name: "emb", Dimension: 32, Encoding: distance.Float32, Similarity: distance.Euclidean}

type mergeRecorder struct {
	codec.NoopMetricsCollector
	requantized []bool
}

func (m *mergeRecorder) RecordMerge(_ string, _ int, requantized bool, _ time.Duration, err error) {
	if err == nil {
		m.requantized = append(m.requantized, requantized)
	}
}

func write(t *testing.T, store blobstore.Store, segment string, f codec.FlatFormat, fi codec.FieldInfo, data [][]float32) {
	t.Helper()
	ctx := context.Background()
	w, err := f.NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: segment})
	require.NoError(t, err)
	fw, err := w.AddField(fi)
	require.NoError(t, err)
	for i, vec := range data {
		require.NoError(t, fw.AddFloat(i, vec))
	}
	require.NoError(t, w.Flush(ctx, len(data)))
	require.NoError(t, w.Finish(ctx))
}

func openReader(t *testing.T, store blobstore.Store, segment string, f codec.FlatFormat) codec.FlatVectorsReader {
	t.Helper()
	r, err := f.NewReader(context.Background(), &codec.SegmentReadState{Store: store, Segment: segment})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func topOrd(t *testing.T, s scorer.RandomVectorScorer) int {
	t.Helper()
	best, bestScore := -1, float32(-1)
	for ord := range s.MaxOrd() {
		score, err := s.Score(ord)
		require.NoError(t, err)
		if score > bestScore {
			best, bestScore = ord, score
		}
	}
	return best
}

func TestFormatValidation(t *testing.T) {
	ctx := context.Background()
	state := &codec.SegmentWriteState{Store: blobstore.NewMemoryStore(), Segment: "_0"}

	_, err := NewWriter(ctx, state, Format{Bits: 8})
	assert.ErrorIs(t, err, quantization.ErrInvalidBits)
	_, err = NewWriter(ctx, state, Format{ConfidenceInterval: 0.5})
	assert.ErrorIs(t, err, quantization.ErrInvalidConfidenceInterval)

	w, err := NewWriter(ctx, state, NewFormat(7))
	require.NoError(t, err)
	defer w.Close()
	_, err = w.AddField(codec.FieldInfo{Name: "b", Dimension: 4, Encoding: distance.Byte, Similarity: distance.DotProduct})
	assert.ErrorIs(t, err, vectors.ErrUnsupportedEncoding)

	fw, err := w.AddField(field)
	require.NoError(t, err)
	assert.ErrorIs(t, fw.AddBytes(0, make([]byte, 32)), vectors.ErrUnsupportedEncoding)
}

func TestQuantizedRoundTrip(t *testing.T) {
	store := blobstore.NewMemoryStore()
	data := testutil.NewRNG(11).UniformRangeVectors(1000, field.Dimension)
	write(t, store, "_0", NewFormat(7), field, data)

	r := openReader(t, store, "_0", NewFormat(7)).(*Reader)
	require.NoError(t, r.CheckIntegrity(context.Background()))

	raw, err := r.FloatVectorValues("emb")
	require.NoError(t, err)
	vec, err := raw.VectorValue(42)
	require.NoError(t, err)
	assert.Equal(t, data[42], vec)

	supplier, err := r.RandomVectorScorerSupplier("emb")
	require.NoError(t, err)
	assert.IsType(t, &scorer.QuantizedSupplier{}, supplier)

	s, err := r.RandomVectorScorer("emb", data[42])
	require.NoError(t, err)
	assert.Equal(t, 42, topOrd(t, s))

	q, err := r.Quantizer("emb")
	require.NoError(t, err)
	qv, err := r.QuantizedVectorValues("emb")
	require.NoError(t, err)
	codes, err := qv.VectorValue(42)
	require.NoError(t, err)
	decoded := make([]float32, field.Dimension)
	q.Dequantize(codes, decoded)
	step := (q.MaxQuantile() - q.MinQuantile()) / 127
	for i, v := range data[42] {
		clamped := max(q.MinQuantile(), min(q.MaxQuantile(), v))
		assert.InDelta(t, clamped, decoded[i], float64(step)/2+1e-5)
	}

	_, err = r.RandomVectorScorerForBytes("emb", make([]byte, 32))
	assert.ErrorIs(t, err, vectors.ErrUnsupportedEncoding)
	_, err = r.QuantizedVectorValues("missing")
	assert.ErrorIs(t, err, codec.ErrFieldNotFound)
}

func TestTopKOverlapWithRawScores(t *testing.T) {
	for _, sim := range []distance.Similarity{distance.Euclidean, distance.DotProduct, distance.Cosine, distance.MaximumInnerProduct} {
		t.Run(sim.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			fi := field
			fi.Similarity = sim
			rng := testutil.NewRNG(12)
			var data [][]float32
			if sim == distance.DotProduct {
				data = rng.UnitVectors(500, fi.Dimension)
			} else {
				data = rng.UniformRangeVectors(500, fi.Dimension)
			}
			format := Format{Bits: 7, ConfidenceInterval: 1}
			write(t, store, "_0", format, fi, data)
			r := openReader(t, store, "_0", format)

			query := rng.UniformRangeVectors(1, fi.Dimension)[0]
			if sim == distance.DotProduct {
				query = rng.UnitVectors(1, fi.Dimension)[0]
			}
			truth := testutil.ExactTopK(data, query, 10, sim)

			s, err := r.RandomVectorScorer("emb", query)
			require.NoError(t, err)
			approx := make([]testutil.SearchResult, 0, s.MaxOrd())
			for ord := range s.MaxOrd() {
				score, err := s.Score(ord)
				require.NoError(t, err)
				approx = append(approx, testutil.SearchResult{Ord: ord, Score: score})
			}
			approx = testutil.TopK(approx, 10)
			assert.GreaterOrEqual(t, testutil.ComputeRecall(truth, approx), 0.9)
		})
	}
}

func TestMergeReusesCodes(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	data := testutil.NewRNG(13).UniformRangeVectors(200, field.Dimension)
	write(t, store, "_0", NewFormat(7), field, data)
	write(t, store, "_1", NewFormat(7), field, data)

	ms := &codec.MergeState{Segments: []codec.MergeSegment{
		{Reader: openReader(t, store, "_0", NewFormat(7)), DocMap: codec.NewDocMap(0, nil)},
		{Reader: openReader(t, store, "_1", NewFormat(7)), DocMap: codec.NewDocMap(200, nil)},
	}}
	rec := &mergeRecorder{}
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_2", Metrics: rec}, NewFormat(7))
	require.NoError(t, err)
	require.NoError(t, w.MergeOneField(ctx, field, ms))
	require.NoError(t, w.Finish(ctx))
	assert.Equal(t, []bool{false}, rec.requantized)

	merged := openReader(t, store, "_2", NewFormat(7)).(*Reader)
	src := ms.Segments[0].Reader.(*Reader)
	before, err := src.QuantizedVectorValues("emb")
	require.NoError(t, err)
	after, err := merged.QuantizedVectorValues("emb")
	require.NoError(t, err)
	assert.Equal(t, 400, after.Size())

	for _, ord := range []int{0, 17, 199} {
		want, err := before.VectorValue(ord)
		require.NoError(t, err)
		got, err := after.VectorValue(ord + 200)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMergeRequantizesRawSegments(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	rng := testutil.NewRNG(14)
	a := rng.UniformRangeVectors(100, field.Dimension)
	b := rng.UniformRangeVectors(100, field.Dimension)
	write(t, store, "_0", flat.NewFormat(), field, a)
	write(t, store, "_1", flat.NewFormat(), field, b)

	ms := &codec.MergeState{Segments: []codec.MergeSegment{
		{Reader: openReader(t, store, "_0", flat.NewFormat()), DocMap: codec.NewDocMap(0, nil)},
		{Reader: openReader(t, store, "_1", flat.NewFormat()), DocMap: codec.NewDocMap(100, nil)},
	}}
	rec := &mergeRecorder{}
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_2", Metrics: rec}, NewFormat(7))
	require.NoError(t, err)
	supplier, err := w.MergeOneFieldToIndex(ctx, field, ms)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, rec.requantized)
	assert.Equal(t, 200, supplier.TotalVectorCount())

	sc, err := supplier.Scorer()
	require.NoError(t, err)
	require.NoError(t, sc.SetScoringOrdinal(150))
	assert.Equal(t, 150, topOrd(t, sc))

	require.NoError(t, supplier.Close())
	require.NoError(t, w.Finish(ctx))

	names, err := store.List(ctx, "_2")
	require.NoError(t, err)
	assert.NotContains(t, names, flat.TempName("_2", "emb"))

	r := openReader(t, store, "_2", NewFormat(7))
	s, err := r.RandomVectorScorer("emb", b[50])
	require.NoError(t, err)
	assert.Equal(t, 150, topOrd(t, s))
}

func TestCloseWithoutFinishLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_0"}, NewFormat(4))
	require.NoError(t, err)
	fw, err := w.AddField(field)
	require.NoError(t, err)
	require.NoError(t, fw.AddFloat(0, make([]float32, 32)))
	require.NoError(t, w.Flush(ctx, 1))
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMergeInstanceRestoresRandomAccess(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewAdviceStore(blobstore.NewMemoryStore())
	write(t, store, "_0", NewFormat(7), field, testutil.NewRNG(15).UniformRangeVectors(50, field.Dimension))
	r := openReader(t, store, "_0", NewFormat(7))
	raw := codec.FileName("_0", flat.DataExtension)
	quantized := codec.FileName("_0", DataExtension)

	ms := &codec.MergeState{Segments: []codec.MergeSegment{
		{Reader: r, DocMap: codec.NewDocMap(0, nil)},
	}}
	rec := &mergeRecorder{}
	w, err := NewWriter(ctx, &codec.SegmentWriteState{Store: store, Segment: "_1", Metrics: rec}, NewFormat(7))
	require.NoError(t, err)
	require.NoError(t, w.MergeOneField(ctx, field, ms))
	require.NoError(t, w.Finish(ctx))
	// the merge instance still serves the segment's codes
	assert.Equal(t, []bool{false}, rec.requantized)
	assert.Equal(t, []string{"sequential"}, store.Advice(raw))
	assert.Equal(t, []string{"sequential"}, store.Advice(quantized))

	require.NoError(t, ms.Close())
	assert.Equal(t, []string{"sequential", "random"}, store.Advice(raw))
	assert.Equal(t, []string{"sequential", "random"}, store.Advice(quantized))

	qv, err := r.(*Reader).QuantizedVectorValues("emb")
	require.NoError(t, err)
	assert.Equal(t, 50, qv.Size())
}

func TestMergeInstanceLogsAdviceErrors(t *testing.T) {
	store := testutil.NewAdviceStore(blobstore.NewMemoryStore())
	write(t, store, "_0", NewFormat(7), field, testutil.NewRNG(16).UniformRangeVectors(10, field.Dimension))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r, err := Open(context.Background(), &codec.SegmentReadState{Store: store, Segment: "_0", Logger: logger})
	require.NoError(t, err)
	defer r.Close()

	store.FailAdvice(errors.New("madvise unsupported"))
	require.NoError(t, r.MergeInstance().Close())

	out := buf.String()
	for _, name := range []string{codec.FileName("_0", flat.DataExtension), codec.FileName("_0", DataExtension)} {
		assert.Contains(t, out, "file="+name+" pattern=sequential")
		assert.Contains(t, out, "file="+name+" pattern=random")
	}
}

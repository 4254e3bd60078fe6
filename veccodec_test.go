package veccodec

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/hnswvec"
	"github.com/hupe1980/veccodec/codec/sq"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 16

var embedding = codec.FieldInfo{
	Name:       "embedding",
	Dimension:  dim,
	Encoding:   distance.Float32,
	Similarity: distance.Euclidean,
}

func floatDocs(vecs [][]float32) []Document {
	docs := make([]Document, len(vecs))
	for i, v := range vecs {
		docs[i] = Document{Floats: map[string][]float32{embedding.Name: v}}
	}
	return docs
}

func openIndex(t *testing.T, store blobstore.Store, opts ...Option) *Index {
	t.Helper()
	idx, err := Open(context.Background(), store, append([]Option{WithFields(embedding)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func topHit(t *testing.T, results []SegmentResult, segment string) Hit {
	t.Helper()
	for _, r := range results {
		if r.Segment == segment {
			require.NotEmpty(t, r.Hits)
			return r.Hits[0]
		}
	}
	t.Fatalf("no result for segment %s", segment)
	return Hit{}
}

func docsOf(results []SegmentResult) []int {
	var out []int
	for _, r := range results {
		for _, h := range r.Hits {
			out = append(out, h.Doc)
		}
	}
	return out
}

func TestIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("OpenEmpty", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore())

		assert.Equal(t, uint64(0), idx.Generation())
		assert.Empty(t, idx.Segments())
		assert.Equal(t, 0, idx.Fields()[0].Number)

		results, err := idx.Search(ctx, embedding.Name, make([]float32, dim), 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("AddSegmentAndSearch", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore())
		vecs := testutil.NewRNG(1).UniformVectors(200, dim)

		info, err := idx.AddSegment(ctx, floatDocs(vecs))
		require.NoError(t, err)
		assert.Equal(t, SegmentInfo{Name: "_0", MaxDoc: 200}, info)
		assert.Equal(t, uint64(1), idx.Generation())

		results, err := idx.Search(ctx, embedding.Name, vecs[7], 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Len(t, results[0].Hits, 10)
		assert.Equal(t, Hit{Doc: 7, Score: 1}, topHit(t, results, "_0"))
		assert.Positive(t, results[0].Visited)
	})

	t.Run("Reopen", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		vecs := testutil.NewRNG(2).UniformVectors(100, dim)

		idx, err := Open(ctx, store, WithFields(embedding))
		require.NoError(t, err)
		_, err = idx.AddSegment(ctx, floatDocs(vecs[:50]))
		require.NoError(t, err)
		_, err = idx.AddSegment(ctx, floatDocs(vecs[50:]))
		require.NoError(t, err)
		require.NoError(t, idx.Close())

		// fields come from the manifest
		reopened, err := Open(ctx, store)
		require.NoError(t, err)
		defer reopened.Close()

		assert.Equal(t, uint64(2), reopened.Generation())
		assert.Equal(t, []SegmentInfo{{Name: "_0", MaxDoc: 50}, {Name: "_1", MaxDoc: 50}}, reopened.Segments())
		require.Len(t, reopened.Fields(), 1)
		assert.Equal(t, embedding.Dimension, reopened.Fields()[0].Dimension)

		results, err := reopened.Search(ctx, embedding.Name, vecs[60], 3)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, Hit{Doc: 10, Score: 1}, topHit(t, results, "_1"))

		info, err := reopened.AddSegment(ctx, floatDocs(vecs[:1]))
		require.NoError(t, err)
		assert.Equal(t, "_2", info.Name)
	})

	t.Run("DeleteHidesDocuments", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store)
		vecs := testutil.NewRNG(3).UniformVectors(100, dim)
		_, err := idx.AddSegment(ctx, floatDocs(vecs))
		require.NoError(t, err)

		n, err := idx.Delete(ctx, "_0", 7, 8)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = idx.Delete(ctx, "_0", 7)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, uint64(2), idx.Generation())

		results, err := idx.Search(ctx, embedding.Name, vecs[7], 10)
		require.NoError(t, err)
		assert.NotContains(t, docsOf(results), 7)
		assert.NotContains(t, docsOf(results), 8)
		assert.Len(t, docsOf(results), 10)

		reopened, err := Open(ctx, store)
		require.NoError(t, err)
		defer reopened.Close()
		assert.Equal(t, 2, reopened.Segments()[0].DeletedDocs)
		assert.Equal(t, 98, reopened.Segments()[0].LiveDocs())
	})

	t.Run("DeleteErrors", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore())
		_, err := idx.AddSegment(ctx, floatDocs(testutil.NewRNG(4).UniformVectors(10, dim)))
		require.NoError(t, err)

		_, err = idx.Delete(ctx, "_9", 1)
		assert.ErrorIs(t, err, ErrSegmentNotFound)

		_, err = idx.Delete(ctx, "_0", 10)
		var oor *ErrDocOutOfRange
		require.ErrorAs(t, err, &oor)
		assert.Equal(t, 10, oor.MaxDoc)
	})

	t.Run("MergeDropsDeletedDocuments", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		metrics := &BasicMetricsCollector{}
		idx := openIndex(t, store, WithMetricsCollector(metrics))
		vecs := testutil.NewRNG(5).UniformVectors(200, dim)

		_, err := idx.AddSegment(ctx, floatDocs(vecs[:100]))
		require.NoError(t, err)
		_, err = idx.AddSegment(ctx, floatDocs(vecs[100:]))
		require.NoError(t, err)
		_, err = idx.Delete(ctx, "_0", 3)
		require.NoError(t, err)

		info, err := idx.Merge(ctx)
		require.NoError(t, err)
		assert.Equal(t, SegmentInfo{Name: "_2", MaxDoc: 199}, info)
		assert.Equal(t, []SegmentInfo{info}, idx.Segments())

		results, err := idx.Search(ctx, embedding.Name, vecs[100], 5)
		require.NoError(t, err)
		assert.Equal(t, Hit{Doc: 99, Score: 1}, topHit(t, results, "_2"))

		results, err = idx.Search(ctx, embedding.Name, vecs[4], 5)
		require.NoError(t, err)
		assert.Equal(t, Hit{Doc: 3, Score: 1}, topHit(t, results, "_2"))

		for _, old := range []string{"_0.", "_1."} {
			names, err := store.List(ctx, old)
			require.NoError(t, err)
			assert.Empty(t, names, old)
		}

		stats := metrics.GetStats()
		assert.Equal(t, int64(1), stats.MergeCount)
		assert.Equal(t, int64(199), stats.MergeVectors)
		assert.Equal(t, int64(4), stats.CommitCount)
		assert.Equal(t, int64(1), stats.DeletedDocs)
		assert.Equal(t, int64(3), stats.GraphBuilds)
	})

	t.Run("NothingToMerge", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore())
		_, err := idx.Merge(ctx)
		assert.ErrorIs(t, err, ErrNothingToMerge)

		_, err = idx.AddSegment(ctx, floatDocs(testutil.NewRNG(6).UniformVectors(10, dim)))
		require.NoError(t, err)
		_, err = idx.Merge(ctx)
		assert.ErrorIs(t, err, ErrNothingToMerge)
	})

	t.Run("InvalidInput", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore())

		_, err := idx.AddSegment(ctx, nil)
		assert.ErrorIs(t, err, ErrNoDocuments)

		_, err = idx.AddSegment(ctx, []Document{{Floats: map[string][]float32{"other": make([]float32, dim)}}})
		assert.ErrorIs(t, err, ErrUnknownField)

		_, err = idx.AddSegment(ctx, []Document{{Floats: map[string][]float32{embedding.Name: make([]float32, 3)}}})
		var dm *ErrDimensionMismatch
		require.ErrorAs(t, err, &dm)
		assert.Equal(t, dim, dm.Expected)

		_, err = idx.Search(ctx, embedding.Name, make([]float32, dim), 0)
		assert.ErrorIs(t, err, ErrInvalidK)

		_, err = idx.SearchBytes(ctx, embedding.Name, make([]byte, dim), 1)
		assert.Error(t, err)

		// failed writes leave nothing behind
		assert.Equal(t, uint64(0), idx.Generation())
	})

	t.Run("FieldConflict", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store)
		_, err := idx.AddSegment(ctx, floatDocs(testutil.NewRNG(7).UniformVectors(5, dim)))
		require.NoError(t, err)

		changed := embedding
		changed.Dimension = dim * 2
		_, err = Open(ctx, store, WithFields(changed))
		assert.Error(t, err)
	})

	t.Run("FlatFormatMismatch", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store)
		_, err := idx.AddSegment(ctx, floatDocs(testutil.NewRNG(8).UniformVectors(5, dim)))
		require.NoError(t, err)

		_, err = Open(ctx, store, WithFormat(hnswvec.NewFormat(func(f *hnswvec.Format) {
			f.Flat = sq.NewFormat(7)
		})))
		assert.Error(t, err)
	})

	t.Run("MixedFields", func(t *testing.T) {
		codes := codec.FieldInfo{Name: "codes", Dimension: 8, Encoding: distance.Byte, Similarity: distance.Euclidean}
		idx := openIndex(t, blobstore.NewMemoryStore(), WithFields(codes))
		rng := testutil.NewRNG(9)
		floats := rng.UniformVectors(60, dim)
		bytesVecs := rng.ByteVectors(60, 8)

		docs := make([]Document, 60)
		for i := range docs {
			docs[i].Floats = map[string][]float32{embedding.Name: floats[i]}
			if i%2 == 0 {
				docs[i].Bytes = map[string][]byte{codes.Name: bytesVecs[i]}
			}
		}
		_, err := idx.AddSegment(ctx, docs)
		require.NoError(t, err)

		results, err := idx.SearchBytes(ctx, codes.Name, bytesVecs[10], 5)
		require.NoError(t, err)
		assert.Equal(t, Hit{Doc: 10, Score: 1}, topHit(t, results, "_0"))
		for _, doc := range docsOf(results) {
			assert.Zero(t, doc%2)
		}
	})

	t.Run("JSONSerde", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		idx := openIndex(t, store, WithSerde(codec.JSON{}))
		_, err := idx.AddSegment(ctx, floatDocs(testutil.NewRNG(10).UniformVectors(5, dim)))
		require.NoError(t, err)

		gen, data, err := blobstore.NewStoreCommitter(store).Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), gen)
		assert.True(t, bytes.HasPrefix(data, []byte("json\n")))

		reopened, err := Open(ctx, store)
		require.NoError(t, err)
		defer reopened.Close()
		assert.Len(t, reopened.Segments(), 1)
	})

	t.Run("CorruptManifest", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		require.NoError(t, store.Put(ctx, blobstore.CommitName(1), []byte("yaml\n{}")))

		_, err := Open(ctx, store)
		var cm *ErrCorruptManifest
		require.ErrorAs(t, err, &cm)
		assert.Equal(t, uint64(1), cm.Generation)
	})

	t.Run("CacheAndLimits", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore(),
			WithBlockCache(1<<20),
			WithResourceLimits(ResourceLimits{MaxBackgroundWorkers: 2, MemoryLimitBytes: 64 << 20}),
		)
		vecs := testutil.NewRNG(11).UniformVectors(150, dim)
		_, err := idx.AddSegment(ctx, floatDocs(vecs[:75]))
		require.NoError(t, err)
		_, err = idx.AddSegment(ctx, floatDocs(vecs[75:]))
		require.NoError(t, err)
		_, err = idx.Merge(ctx)
		require.NoError(t, err)

		results, err := idx.Search(ctx, embedding.Name, vecs[80], 1)
		require.NoError(t, err)
		assert.Equal(t, Hit{Doc: 80, Score: 1}, topHit(t, results, "_2"))
		require.NoError(t, idx.CheckIntegrity(ctx))
	})

	t.Run("SearchDuringMerge", func(t *testing.T) {
		idx := openIndex(t, blobstore.NewMemoryStore())
		vecs := testutil.NewRNG(12).UniformVectors(300, dim)
		for i := 0; i < 3; i++ {
			_, err := idx.AddSegment(ctx, floatDocs(vecs[i*100:(i+1)*100]))
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					if _, err := idx.Search(ctx, embedding.Name, vecs[(w*20+i)%300], 5); err != nil {
						errs <- err
						return
					}
				}
			}(w)
		}
		_, err := idx.Merge(ctx)
		wg.Wait()
		close(errs)
		require.NoError(t, err)
		for err := range errs {
			require.NoError(t, err)
		}
		assert.Len(t, idx.Segments(), 1)
	})

	t.Run("Closed", func(t *testing.T) {
		idx, err := Open(ctx, blobstore.NewMemoryStore(), WithFields(embedding))
		require.NoError(t, err)
		require.NoError(t, idx.Close())
		require.NoError(t, idx.Close())

		_, err = idx.Search(ctx, embedding.Name, make([]float32, dim), 1)
		assert.ErrorIs(t, err, ErrClosed)
		_, err = idx.AddSegment(ctx, floatDocs(testutil.NewRNG(13).UniformVectors(2, dim)))
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSearchDefaultOptionsRecall(t *testing.T) {
	ctx := context.Background()
	wide := codec.FieldInfo{Name: "wide", Dimension: 64, Encoding: distance.Float32, Similarity: distance.Euclidean}
	idx, err := Open(ctx, blobstore.NewMemoryStore(), WithFields(wide))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	rng := testutil.NewRNG(21)
	vecs := rng.UniformVectors(2000, wide.Dimension)
	docs := make([]Document, len(vecs))
	for i, v := range vecs {
		docs[i] = Document{Floats: map[string][]float32{wide.Name: v}}
	}
	_, err = idx.AddSegment(ctx, docs)
	require.NoError(t, err)

	queries := rng.UniformVectors(50, wide.Dimension)
	total := 0.0
	for _, q := range queries {
		results, err := idx.Search(ctx, wide.Name, q, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		got := make([]testutil.SearchResult, len(results[0].Hits))
		for i, h := range results[0].Hits {
			got[i] = testutil.SearchResult{Ord: h.Doc, Score: h.Score}
		}
		total += testutil.ComputeRecall(testutil.ExactTopK(vecs, q, 10, distance.Euclidean), got)
	}
	assert.GreaterOrEqual(t, total/float64(len(queries)), 0.9)
}

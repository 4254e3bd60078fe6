package benchmark_test

import (
	"context"
	"testing"

	"github.com/hupe1980/veccodec"
	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/hnswvec"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/testutil"
)

const (
	dimSmall  = 64
	dimMedium = 128
	dimLarge  = 384

	sizeSmall  = 10_000
	sizeMedium = 50_000
)

const fieldName = "embedding"

// openBenchIndex opens an in-memory index with one float field.
func openBenchIndex(b *testing.B, dim int, f hnswvec.Format) *veccodec.Index {
	b.Helper()
	idx, err := veccodec.Open(context.Background(), blobstore.NewMemoryStore(),
		veccodec.WithFields(codec.FieldInfo{
			Name:       fieldName,
			Dimension:  dim,
			Encoding:   distance.Float32,
			Similarity: distance.Euclidean,
		}),
		veccodec.WithFormat(f),
	)
	if err != nil {
		b.Fatal(err)
	}
	return idx
}

// loadSegments writes data as segments of segSize documents.
func loadSegments(b *testing.B, idx *veccodec.Index, data [][]float32, segSize int) {
	b.Helper()
	ctx := context.Background()
	for start := 0; start < len(data); start += segSize {
		end := min(start+segSize, len(data))
		docs := make([]veccodec.Document, 0, end-start)
		for _, v := range data[start:end] {
			docs = append(docs, veccodec.Document{Floats: map[string][]float32{fieldName: v}})
		}
		if _, err := idx.AddSegment(ctx, docs); err != nil {
			b.Fatal(err)
		}
	}
}

func recallAtK(results []veccodec.SegmentResult, truth []testutil.SearchResult) float64 {
	if len(results) != 1 {
		return 0
	}
	got := make([]testutil.SearchResult, len(results[0].Hits))
	for i, h := range results[0].Hits {
		got[i] = testutil.SearchResult{Ord: h.Doc}
	}
	return testutil.ComputeRecall(truth, got)
}

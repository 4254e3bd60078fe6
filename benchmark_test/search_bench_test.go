package benchmark_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/hupe1980/veccodec/codec/hnswvec"
	"github.com/hupe1980/veccodec/codec/sq"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/testutil"
)

// BenchmarkSearchDim measures search latency and recall across dimensions.
func BenchmarkSearchDim(b *testing.B) {
	dims := []int{dimSmall, dimMedium, dimLarge}
	const n = sizeSmall
	const k = 10

	for _, dim := range dims {
		b.Run("dim="+strconv.Itoa(dim), func(b *testing.B) {
			idx := openBenchIndex(b, dim, hnswvec.NewFormat())
			defer idx.Close()

			rng := testutil.NewRNG(42)
			data := rng.UniformVectors(n, dim)
			loadSegments(b, idx, data, n)
			queries := rng.UniformVectors(100, dim)

			ctx := context.Background()
			var totalRecall float64

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				q := queries[i%len(queries)]
				results, err := idx.Search(ctx, fieldName, q, k)
				if err != nil {
					b.Fatal(err)
				}

				// Compute recall for a subset to avoid slowing the benchmark
				if i < 50 {
					totalRecall += recallAtK(results, testutil.ExactTopK(data, q, k, distance.Euclidean))
				}
			}

			b.StopTimer()
			b.ReportMetric(totalRecall/float64(min(50, b.N)), "recall@10")
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "qps")
		})
	}
}

// BenchmarkSearchQuantized compares raw and 7-bit quantized segments.
func BenchmarkSearchQuantized(b *testing.B) {
	formats := map[string]hnswvec.Format{
		"raw": hnswvec.NewFormat(),
		"sq7": hnswvec.NewFormat(func(f *hnswvec.Format) { f.Flat = sq.NewFormat(7) }),
	}
	for name, f := range formats {
		b.Run(name, func(b *testing.B) {
			idx := openBenchIndex(b, dimMedium, f)
			defer idx.Close()

			rng := testutil.NewRNG(7)
			loadSegments(b, idx, rng.UniformVectors(sizeSmall, dimMedium), sizeSmall)
			queries := rng.UniformVectors(100, dimMedium)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Search(ctx, fieldName, queries[i%len(queries)], 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkMerge measures merging segments, seeded by the largest graph.
func BenchmarkMerge(b *testing.B) {
	for _, segments := range []int{2, 5} {
		b.Run("segments="+strconv.Itoa(segments), func(b *testing.B) {
			data := testutil.NewRNG(3).UniformVectors(sizeSmall, dimSmall)
			ctx := context.Background()

			for i := 0; i < b.N; i++ {
				b.StopTimer()
				idx := openBenchIndex(b, dimSmall, hnswvec.NewFormat())
				loadSegments(b, idx, data, sizeSmall/segments)
				b.StartTimer()

				if _, err := idx.Merge(ctx); err != nil {
					b.Fatal(err)
				}

				b.StopTimer()
				_ = idx.Close()
				b.StartTimer()
			}
			b.ReportMetric(float64(sizeSmall), "vectors/op")
		})
	}
}

// BenchmarkAddSegment measures flush throughput including graph build.
func BenchmarkAddSegment(b *testing.B) {
	data := testutil.NewRNG(5).UniformVectors(sizeMedium/10, dimMedium)
	idx := openBenchIndex(b, dimMedium, hnswvec.NewFormat())
	defer idx.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		loadSegments(b, idx, data, len(data))
	}
	b.ReportMetric(float64(len(data)*b.N)/b.Elapsed().Seconds(), "vectors/s")
}

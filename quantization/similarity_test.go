package quantization

import (
	"testing"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSimilarityApproximatesFloat(t *testing.T) {
	for _, sim := range []distance.Similarity{distance.Euclidean, distance.DotProduct, distance.Cosine, distance.MaximumInnerProduct} {
		t.Run(sim.String(), func(t *testing.T) {
			rng := testutil.NewRNG(42)
			dim := 64
			data := rng.UnitVectors(1000, dim)
			queries := rng.UnitVectors(20, dim)

			sq, err := FromVectors(sliceSource(data), DefaultConfidenceInterval(dim), len(data), 7)
			require.NoError(t, err)

			codes := make([][]byte, len(data))
			corrs := make([]float32, len(data))
			for i, v := range data {
				codes[i] = make([]byte, dim)
				corrs[i] = sq.Quantize(v, codes[i], sim)
			}

			qs := NewVectorSimilarity(sim, sq.ConstantMultiplier())
			qCodes := make([]byte, dim)

			var recall float64
			for _, q := range queries {
				truth := testutil.ExactTopK(data, q, 10, sim)

				qCorr := sq.QuantizeQuery(q, qCodes, sim)
				approx := make([]testutil.SearchResult, len(data))
				for i := range data {
					approx[i] = testutil.SearchResult{Ord: i, Score: qs.Score(qCodes, qCorr, codes[i], corrs[i])}
				}
				recall += testutil.ComputeRecall(truth, topKResults(approx, 10))
			}
			assert.GreaterOrEqual(t, recall/float64(len(queries)), 0.9)
		})
	}
}

func TestVectorSimilarityBitsImproveError(t *testing.T) {
	rng := testutil.NewRNG(3)
	dim := 32
	data := rng.UnitVectors(200, dim)

	errAt := func(bits uint8) float64 {
		sq, err := FromVectors(sliceSource(data), 1, len(data), bits)
		require.NoError(t, err)
		qs := NewVectorSimilarity(distance.DotProduct, sq.ConstantMultiplier())

		a, b := make([]byte, dim), make([]byte, dim)
		var total float64
		for i := 0; i+1 < len(data); i += 2 {
			ca := sq.Quantize(data[i], a, distance.DotProduct)
			cb := sq.Quantize(data[i+1], b, distance.DotProduct)
			d := float64(qs.Score(a, ca, b, cb) - distance.DotProduct.Compare(data[i], data[i+1]))
			if d < 0 {
				d = -d
			}
			total += d
		}
		return total
	}

	assert.Less(t, errAt(7), errAt(4))
}

func TestVectorSimilarityScoresNonNegative(t *testing.T) {
	qs := NewVectorSimilarity(distance.DotProduct, 1)
	assert.Equal(t, float32(0), qs.Score([]byte{0}, -10, []byte{0}, -10))

	assert.Panics(t, func() { NewVectorSimilarity(distance.Similarity(99), 1) })
}

func topKResults(results []testutil.SearchResult, k int) []testutil.SearchResult {
	// selection by repeated max keeps ties on the lower ordinal
	out := make([]testutil.SearchResult, 0, k)
	used := make([]bool, len(results))
	for len(out) < k {
		best := -1
		for i, r := range results {
			if used[i] {
				continue
			}
			if best < 0 || r.Score > results[best].Score {
				best = i
			}
		}
		used[best] = true
		out = append(out, results[best])
	}
	return out
}

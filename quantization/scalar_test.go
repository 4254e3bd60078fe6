package quantization

import (
	"sort"
	"testing"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource [][]float32

func (s sliceSource) Dimension() int { return len(s[0]) }
func (s sliceSource) Size() int      { return len(s) }
func (s sliceSource) VectorValue(ord int) ([]float32, error) {
	return s[ord], nil
}

func TestNewScalarQuantizer(t *testing.T) {
	_, err := NewScalarQuantizer(0, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidBits)

	_, err = NewScalarQuantizer(0, 1, 8)
	assert.ErrorIs(t, err, ErrInvalidBits)

	_, err = NewScalarQuantizer(1, 0, 7)
	assert.Error(t, err)

	sq, err := NewScalarQuantizer(-1, 1, 7)
	require.NoError(t, err)
	alpha := float32(2) / 127
	assert.InDelta(t, alpha*alpha, sq.ConstantMultiplier(), 1e-9)
}

func TestQuantizeClampsAndRounds(t *testing.T) {
	sq, err := NewScalarQuantizer(0, 1, 7)
	require.NoError(t, err)

	dst := make([]byte, 4)
	corr := sq.Quantize([]float32{-5, 0, 0.5, 9}, dst, distance.Euclidean)

	assert.Equal(t, []byte{0, 0, 64, 127}, dst)
	assert.Zero(t, corr)

	corr = sq.Quantize([]float32{0.2, 0.4, 0.6, 0.8}, dst, distance.DotProduct)
	assert.NotZero(t, corr)
	for _, c := range dst {
		assert.LessOrEqual(t, c, byte(127))
	}
}

func TestQuantizeQueryDoesNotMutateInput(t *testing.T) {
	sq, err := NewScalarQuantizer(-1, 1, 7)
	require.NoError(t, err)

	q := []float32{3, 4}
	dst := make([]byte, 2)
	sq.QuantizeQuery(q, dst, distance.Cosine)

	assert.Equal(t, []float32{3, 4}, q)
	// normalized to {0.6, 0.8}
	assert.Equal(t, byte(102), dst[0])
	assert.Equal(t, byte(114), dst[1])
}

func TestDequantize(t *testing.T) {
	sq, err := NewScalarQuantizer(-1, 1, 7)
	require.NoError(t, err)

	src := []float32{-0.9, -0.3, 0, 0.25, 0.99}
	codes := make([]byte, len(src))
	sq.Quantize(src, codes, distance.Euclidean)

	out := make([]float32, len(src))
	sq.Dequantize(codes, out)
	for i := range src {
		assert.InDelta(t, src[i], out[i], float64(1)/127+1e-6)
	}
}

func TestRecalculateCorrectiveOffset(t *testing.T) {
	old, err := NewScalarQuantizer(-1, 1, 7)
	require.NoError(t, err)
	next, err := NewScalarQuantizer(-0.9, 0.95, 7)
	require.NoError(t, err)

	src := []float32{-0.5, 0.1, 0.7}
	codes := make([]byte, 3)
	oldCorr := old.Quantize(src, codes, distance.DotProduct)

	assert.InDelta(t, oldCorr, old.RecalculateCorrectiveOffset(codes, old, distance.DotProduct), 0.05)
	assert.NotEqual(t, oldCorr, next.RecalculateCorrectiveOffset(codes, old, distance.DotProduct))
	assert.Zero(t, next.RecalculateCorrectiveOffset(codes, old, distance.Euclidean))
}

func TestFromVectors(t *testing.T) {
	rng := testutil.NewRNG(7)
	data := rng.UniformRangeVectors(500, 32)

	t.Run("FullInterval", func(t *testing.T) {
		sq, err := FromVectors(sliceSource(data), 1, len(data), 7)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sq.MinQuantile(), float32(-1))
		assert.Less(t, sq.MaxQuantile(), float32(1))
		assert.Less(t, sq.MinQuantile(), float32(-0.99))
	})

	t.Run("ConfidenceInterval", func(t *testing.T) {
		full, err := FromVectors(sliceSource(data), 1, len(data), 7)
		require.NoError(t, err)
		sq, err := FromVectors(sliceSource(data), 0.9, len(data), 7)
		require.NoError(t, err)
		assert.Greater(t, sq.MinQuantile(), full.MinQuantile())
		assert.Less(t, sq.MaxQuantile(), full.MaxQuantile())
		assert.InDelta(t, -0.9, sq.MinQuantile(), 0.05)
		assert.InDelta(t, 0.9, sq.MaxQuantile(), 0.05)
	})

	t.Run("InvalidInterval", func(t *testing.T) {
		_, err := FromVectors(sliceSource(data), 0.5, len(data), 7)
		assert.ErrorIs(t, err, ErrInvalidConfidenceInterval)
	})

	t.Run("Empty", func(t *testing.T) {
		sq, err := FromVectors(sliceSource(data), 0.95, 0, 7)
		require.NoError(t, err)
		assert.Zero(t, sq.ConstantMultiplier())
	})
}

func TestDefaultConfidenceInterval(t *testing.T) {
	assert.InDelta(t, 0.9, DefaultConfidenceInterval(2), 1e-6)
	assert.InDelta(t, 1-float32(1)/129, DefaultConfidenceInterval(128), 1e-6)
}

func TestSampleOrdinals(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, sampleOrdinals(3, 10))

	s := sampleOrdinals(1000, 100)
	assert.Len(t, s, 100)
	assert.True(t, sort.IntsAreSorted(s))
	assert.Equal(t, s, sampleOrdinals(1000, 100))
}

func TestMergeQuantiles(t *testing.T) {
	a, _ := NewScalarQuantizer(-1, 1, 7)
	b, _ := NewScalarQuantizer(-0.5, 2, 7)

	merged, err := MergeQuantiles([]*ScalarQuantizer{a, b}, []int{300, 100}, 7)
	require.NoError(t, err)
	assert.InDelta(t, -0.875, merged.MinQuantile(), 1e-6)
	assert.InDelta(t, 1.25, merged.MaxQuantile(), 1e-6)
	assert.True(t, ShouldRequantize(merged, []*ScalarQuantizer{a, b}))

	merged, err = MergeQuantiles([]*ScalarQuantizer{a, nil}, []int{1, 1}, 7)
	require.NoError(t, err)
	assert.Nil(t, merged)

	same, err := MergeQuantiles([]*ScalarQuantizer{a, a}, []int{10, 20}, 7)
	require.NoError(t, err)
	assert.False(t, ShouldRequantize(same, []*ScalarQuantizer{a, a}))
}

func TestMarshalBinary(t *testing.T) {
	sq, err := NewScalarQuantizer(-0.25, 3.5, 4)
	require.NoError(t, err)

	data, err := sq.MarshalBinary()
	require.NoError(t, err)

	var decoded ScalarQuantizer
	require.NoError(t, decoded.UnmarshalBinary(data))
	assert.True(t, sq.Equal(&decoded))
	assert.Equal(t, sq.ConstantMultiplier(), decoded.ConstantMultiplier())

	assert.ErrorIs(t, decoded.UnmarshalBinary(data[:3]), ErrInvalidBinaryLength)
}

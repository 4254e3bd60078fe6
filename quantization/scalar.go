package quantization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/hupe1980/veccodec/distance"
)

const (
	// SampleSize caps the number of vectors inspected when learning quantiles.
	SampleSize = 25_000

	// scratchVectors is the number of vectors whose components are pooled
	// into one quantile estimate.
	scratchVectors = 20

	// requantizationLimit bounds how far merged quantiles may drift from a
	// segment's own quantiles before its codes must be recomputed.
	requantizationLimit = 0.2

	// MinBits and MaxBits bound the supported code width.
	MinBits = 1
	MaxBits = 7

	// DefaultBits is the code width used when none is configured.
	DefaultBits = 7

	binarySize = 4 + 4 + 1
)

var (
	ErrInvalidBits               = errors.New("quantization: bits must be in [1, 7]")
	ErrInvalidConfidenceInterval = errors.New("quantization: confidence interval must be in [0.9, 1]")
	ErrInvalidBinaryLength       = errors.New("quantization: invalid scalar quantizer binary length")
)

// FloatSource is the minimal random-access view needed to learn quantiles.
type FloatSource interface {
	Dimension() int
	Size() int
	VectorValue(ord int) ([]float32, error)
}

// ScalarQuantizer maps float components into [0, 2^bits-1] codes.
// It is immutable and safe for concurrent use.
type ScalarQuantizer struct {
	minQuantile float32
	maxQuantile float32
	bits        uint8
	scale       float32
	alpha       float32
}

// NewScalarQuantizer creates a quantizer for the given quantile range.
func NewScalarQuantizer(minQuantile, maxQuantile float32, bits uint8) (*ScalarQuantizer, error) {
	if bits < MinBits || bits > MaxBits {
		return nil, ErrInvalidBits
	}
	if math.IsNaN(float64(minQuantile)) || math.IsNaN(float64(maxQuantile)) || maxQuantile < minQuantile {
		return nil, fmt.Errorf("quantization: invalid quantiles [%v, %v]", minQuantile, maxQuantile)
	}
	sq := &ScalarQuantizer{
		minQuantile: minQuantile,
		maxQuantile: maxQuantile,
		bits:        bits,
	}
	divisor := float32(int(1)<<bits - 1)
	if width := maxQuantile - minQuantile; width > 0 {
		sq.scale = divisor / width
		sq.alpha = width / divisor
	}
	return sq, nil
}

// MinQuantile returns the lower clamp bound.
func (sq *ScalarQuantizer) MinQuantile() float32 { return sq.minQuantile }

// MaxQuantile returns the upper clamp bound.
func (sq *ScalarQuantizer) MaxQuantile() float32 { return sq.maxQuantile }

// Bits returns the code width.
func (sq *ScalarQuantizer) Bits() uint8 { return sq.bits }

// ConstantMultiplier returns alpha², the factor applied to integer
// dot products and squared distances of codes.
func (sq *ScalarQuantizer) ConstantMultiplier() float32 { return sq.alpha * sq.alpha }

// Quantize writes the codes for src into dst and returns the score
// correction constant. Euclidean needs no correction and always gets 0.
// len(dst) must be >= len(src).
func (sq *ScalarQuantizer) Quantize(src []float32, dst []byte, sim distance.Similarity) float32 {
	var correction float32
	for i, v := range src {
		correction += sq.quantizeFloat(v, dst, i)
	}
	if sim == distance.Euclidean {
		return 0
	}
	return correction
}

// QuantizeQuery quantizes a query vector. Cosine queries are normalized on a
// copy first; src is never modified.
func (sq *ScalarQuantizer) QuantizeQuery(src []float32, dst []byte, sim distance.Similarity) float32 {
	if sim == distance.Cosine {
		if norm, ok := distance.NormalizeL2Copy(src); ok {
			src = norm
		}
	}
	return sq.Quantize(src, dst, sim)
}

// quantizeFloat clamps v into the quantile range, stores its rounded code
// and returns its contribution to the correction constant.
func (sq *ScalarQuantizer) quantizeFloat(v float32, dst []byte, idx int) float32 {
	dx := v - sq.minQuantile
	dxc := max(sq.minQuantile, min(sq.maxQuantile, v)) - sq.minQuantile
	code := int(math.Round(float64(sq.scale * dxc)))
	dxq := float32(code) * sq.alpha
	if dst != nil {
		dst[idx] = byte(code)
	}
	return sq.minQuantile*(v-sq.minQuantile/2) + (dx-dxq)*dxq
}

// RecalculateCorrectiveOffset recomputes the correction constant of codes that
// were produced by old, as if they had been produced by sq. Codes are kept.
func (sq *ScalarQuantizer) RecalculateCorrectiveOffset(codes []byte, old *ScalarQuantizer, sim distance.Similarity) float32 {
	if sim == distance.Euclidean {
		return 0
	}
	var correction float32
	for _, c := range codes {
		v := old.alpha*float32(c) + old.minQuantile
		correction += sq.quantizeFloat(v, nil, 0)
	}
	return correction
}

// Dequantize reconstructs approximate float components into dst.
func (sq *ScalarQuantizer) Dequantize(codes []byte, dst []float32) {
	for i, c := range codes {
		dst[i] = sq.alpha*float32(c) + sq.minQuantile
	}
}

// Equal reports whether two quantizers produce identical codes.
func (sq *ScalarQuantizer) Equal(other *ScalarQuantizer) bool {
	if sq == nil || other == nil {
		return sq == other
	}
	return sq.minQuantile == other.minQuantile && sq.maxQuantile == other.maxQuantile && sq.bits == other.bits
}

func (sq *ScalarQuantizer) String() string {
	return fmt.Sprintf("ScalarQuantizer(min=%g, max=%g, bits=%d)", sq.minQuantile, sq.maxQuantile, sq.bits)
}

// MarshalBinary implements encoding.BinaryMarshaler.
// Format (little-endian): [min:float32][max:float32][bits:uint8]
func (sq *ScalarQuantizer) MarshalBinary() ([]byte, error) {
	buf := make([]byte, binarySize)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(sq.minQuantile))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(sq.maxQuantile))
	buf[8] = sq.bits
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (sq *ScalarQuantizer) UnmarshalBinary(data []byte) error {
	if len(data) != binarySize {
		return ErrInvalidBinaryLength
	}
	decoded, err := NewScalarQuantizer(
		math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])),
		math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])),
		data[8],
	)
	if err != nil {
		return err
	}
	*sq = *decoded
	return nil
}

// DefaultConfidenceInterval returns the confidence interval used when none
// is configured: max(0.9, 1 - 1/(dim+1)).
func DefaultConfidenceInterval(dim int) float32 {
	return max(0.9, 1-1/float32(dim+1))
}

// FromVectors learns a quantizer from a sample of values. Components are
// pooled per block of vectors, the symmetric confidence interval is selected
// per block and the per-block bounds are averaged. A confidence interval of
// exactly 1 uses the global min and max.
func FromVectors(values FloatSource, confidenceInterval float32, totalVectorCount int, bits uint8) (*ScalarQuantizer, error) {
	if confidenceInterval < 0.9 || confidenceInterval > 1 {
		return nil, ErrInvalidConfidenceInterval
	}
	if totalVectorCount == 0 {
		return NewScalarQuantizer(0, 0, bits)
	}

	if confidenceInterval == 1 {
		lo, hi := float32(math.MaxFloat32), float32(-math.MaxFloat32)
		for ord := 0; ord < totalVectorCount; ord++ {
			vec, err := values.VectorValue(ord)
			if err != nil {
				return nil, err
			}
			for _, v := range vec {
				lo = min(lo, v)
				hi = max(hi, v)
			}
		}
		return NewScalarQuantizer(lo, hi, bits)
	}

	dim := values.Dimension()
	ords := sampleOrdinals(totalVectorCount, SampleSize)
	scratch := make([]float32, 0, dim*min(scratchVectors, len(ords)))

	var lowerSum, upperSum float64
	blocks := 0
	flush := func() {
		lower, upper := upperAndLowerQuantile(scratch, confidenceInterval)
		lowerSum += float64(lower)
		upperSum += float64(upper)
		blocks++
		scratch = scratch[:0]
	}

	for _, ord := range ords {
		vec, err := values.VectorValue(ord)
		if err != nil {
			return nil, err
		}
		scratch = append(scratch, vec...)
		if len(scratch) == cap(scratch) {
			flush()
		}
	}
	if len(scratch) > 0 {
		flush()
	}
	return NewScalarQuantizer(float32(lowerSum/float64(blocks)), float32(upperSum/float64(blocks)), bits)
}

// upperAndLowerQuantile sorts arr in place and returns the symmetric
// confidence interval bounds.
func upperAndLowerQuantile(arr []float32, confidenceInterval float32) (float32, float32) {
	slices.Sort(arr)
	sel := int(float32(len(arr))*(1-confidenceInterval)/2 + 0.5)
	if sel*2 >= len(arr) {
		sel = 0
	}
	return arr[sel], arr[len(arr)-sel-1]
}

// sampleOrdinals returns all ordinals when n <= size, otherwise a sorted
// reservoir sample of size ordinals drawn with a fixed seed.
func sampleOrdinals(n, size int) []int {
	if n <= size {
		ords := make([]int, n)
		for i := range ords {
			ords[i] = i
		}
		return ords
	}
	rng := rand.New(rand.NewPCG(42, 0x9E3779B97F4A7C15))
	reservoir := make([]int, size)
	for i := range reservoir {
		reservoir[i] = i
	}
	for i := size; i < n; i++ {
		if j := rng.IntN(i + 1); j < size {
			reservoir[j] = i
		}
	}
	slices.Sort(reservoir)
	return reservoir
}

// MergeQuantiles returns the count-weighted average of per-segment
// quantizers. It returns nil when any segment has no quantizer.
func MergeQuantiles(quantizers []*ScalarQuantizer, counts []int, bits uint8) (*ScalarQuantizer, error) {
	if len(quantizers) == 0 || len(quantizers) != len(counts) {
		return nil, nil
	}
	var lo, hi float64
	total := 0
	for i, q := range quantizers {
		if q == nil {
			return nil, nil
		}
		lo += float64(q.minQuantile) * float64(counts[i])
		hi += float64(q.maxQuantile) * float64(counts[i])
		total += counts[i]
	}
	if total == 0 {
		return nil, nil
	}
	return NewScalarQuantizer(float32(lo/float64(total)), float32(hi/float64(total)), bits)
}

// ShouldRequantize reports whether any segment quantizer drifted too far
// from merged for its codes to be reused.
func ShouldRequantize(merged *ScalarQuantizer, quantizers []*ScalarQuantizer) bool {
	if merged == nil {
		return true
	}
	tol := requantizationLimit * (merged.maxQuantile - merged.minQuantile) / 128
	for _, q := range quantizers {
		if q == nil || q.bits != merged.bits {
			return true
		}
		if abs32(q.maxQuantile-merged.maxQuantile) > tol || abs32(q.minQuantile-merged.minQuantile) > tol {
			return true
		}
	}
	return false
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

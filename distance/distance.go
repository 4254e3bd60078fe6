package distance

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/veccodec/internal/math32"
	"github.com/viterin/vek/vek32"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	return vek32.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	d := vek32.Distance(a, b)
	return d * d
}

// CosineSim calculates the cosine of the angle between two vectors.
// Returns 0 if either vector has zero norm.
func CosineSim(a, b []float32) float32 {
	na := vek32.Norm(a)
	nb := vek32.Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return vek32.Dot(a, b) / (na * nb)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm := vek32.Norm(v)
	if norm == 0 {
		return false
	}
	vek32.MulNumber_Inplace(v, 1/norm)
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// ScaleMaxInnerProductScore maps an unbounded inner product to a positive score.
func ScaleMaxInnerProductScore(dot float32) float32 {
	if dot < 0 {
		return 1 / (1 + -1*dot)
	}
	return dot + 1
}

// Similarity is the closed set of supported similarity functions.
type Similarity uint8

const (
	Euclidean Similarity = iota
	DotProduct
	Cosine
	MaximumInnerProduct
)

func (s Similarity) String() string {
	switch s {
	case Euclidean:
		return "EUCLIDEAN"
	case DotProduct:
		return "DOT_PRODUCT"
	case Cosine:
		return "COSINE"
	case MaximumInnerProduct:
		return "MAXIMUM_INNER_PRODUCT"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the defined similarities.
func (s Similarity) Valid() bool {
	return s <= MaximumInnerProduct
}

// ParseSimilarity parses the String form of a similarity (case-insensitive).
func ParseSimilarity(name string) (Similarity, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "EUCLIDEAN", "L2":
		return Euclidean, nil
	case "DOT_PRODUCT", "DOT":
		return DotProduct, nil
	case "COSINE":
		return Cosine, nil
	case "MAXIMUM_INNER_PRODUCT", "MIP":
		return MaximumInnerProduct, nil
	default:
		return 0, fmt.Errorf("unknown similarity %q", name)
	}
}

// Compare scores two float vectors of equal length.
func (s Similarity) Compare(a, b []float32) float32 {
	switch s {
	case Euclidean:
		return 1 / (1 + SquaredL2(a, b))
	case DotProduct:
		return max((1+Dot(a, b))/2, 0)
	case Cosine:
		return (1 + CosineSim(a, b)) / 2
	case MaximumInnerProduct:
		return ScaleMaxInnerProductScore(Dot(a, b))
	default:
		panic(fmt.Sprintf("distance: unsupported similarity %d", uint8(s)))
	}
}

// CompareBytes scores two int8 vectors of equal length.
func (s Similarity) CompareBytes(a, b []byte) float32 {
	switch s {
	case Euclidean:
		return 1 / (1 + float32(math32.SquaredL2Int8(a, b)))
	case DotProduct:
		// Divide by the largest possible magnitude so the score stays in [0, 1].
		denom := float32(len(a) * (1 << 15))
		return 0.5 + float32(math32.DotInt8(a, b))/denom
	case Cosine:
		return (1 + math32.CosineInt8(a, b)) / 2
	case MaximumInnerProduct:
		return ScaleMaxInnerProductScore(float32(math32.DotInt8(a, b)))
	default:
		panic(fmt.Sprintf("distance: unsupported similarity %d", uint8(s)))
	}
}

// Encoding is the closed set of vector element encodings.
type Encoding uint8

const (
	// Byte vectors store one signed int8 per dimension.
	Byte Encoding = iota
	// Float32 vectors store one IEEE-754 float per dimension.
	Float32
)

func (e Encoding) String() string {
	switch e {
	case Byte:
		return "BYTE"
	case Float32:
		return "FLOAT32"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(e))
	}
}

// Valid reports whether e is one of the defined encodings.
func (e Encoding) Valid() bool {
	return e <= Float32
}

// ByteSize returns the number of bytes per dimension.
func (e Encoding) ByteSize() int {
	if e == Float32 {
		return 4
	}
	return 1
}

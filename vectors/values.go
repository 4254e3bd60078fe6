package vectors

import (
	"errors"
	"fmt"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/quantization"
)

var (
	// ErrUnsupportedEncoding is returned when an accessor of an unknown
	// encoding reaches an encoding dispatch.
	ErrUnsupportedEncoding = errors.New("unsupported vector encoding")

	// ErrOrdOutOfRange is returned for ordinals outside [0, Size()).
	ErrOrdOutOfRange = errors.New("vector ordinal out of range")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// CheckDimension returns an *ErrDimensionMismatch when actual != expected.
func CheckDimension(expected, actual int) error {
	if expected != actual {
		return &ErrDimensionMismatch{Expected: expected, Actual: actual}
	}
	return nil
}

// KnnVectorValues is the encoding-independent part of a value accessor.
type KnnVectorValues interface {
	Dimension() int
	Size() int
	Encoding() distance.Encoding
	// OrdToDoc maps a vector ordinal to its document id.
	OrdToDoc(ord int) int
}

// FloatVectorValues gives random access to float vectors.
type FloatVectorValues interface {
	KnnVectorValues
	VectorValue(ord int) ([]float32, error)
	Copy() (FloatVectorValues, error)
}

// ByteVectorValues gives random access to signed int8 vectors.
type ByteVectorValues interface {
	KnnVectorValues
	VectorValue(ord int) ([]byte, error)
	Copy() (ByteVectorValues, error)
}

// QuantizedByteVectorValues gives random access to scalar quantized codes
// and their per-vector correction constants.
type QuantizedByteVectorValues interface {
	KnnVectorValues
	VectorValue(ord int) ([]byte, error)
	ScoreCorrectionConstant(ord int) (float32, error)
	Quantizer() *quantization.ScalarQuantizer
	Copy() (QuantizedByteVectorValues, error)
}

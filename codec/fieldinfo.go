package codec

import (
	"fmt"

	"github.com/hupe1980/veccodec/distance"
)

// MaxDimensions is the largest supported vector dimension.
const MaxDimensions = 1024

// FieldInfo describes one vector field.
type FieldInfo struct {
	Name       string
	Number     int
	Dimension  int
	Encoding   distance.Encoding
	Similarity distance.Similarity
}

// Validate checks that the field can be written.
func (fi FieldInfo) Validate() error {
	if fi.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidField)
	}
	if fi.Number < 0 {
		return fmt.Errorf("%w: %s has negative number %d", ErrInvalidField, fi.Name, fi.Number)
	}
	if fi.Dimension <= 0 {
		return fmt.Errorf("%w: %s has dimension %d", ErrInvalidField, fi.Name, fi.Dimension)
	}
	if fi.Dimension > MaxDimensions {
		return fmt.Errorf("%w: %s has %d dimensions, limit is %d", ErrDimensionTooLarge, fi.Name, fi.Dimension, MaxDimensions)
	}
	if !fi.Encoding.Valid() {
		return fmt.Errorf("%w: %s has encoding %d", ErrInvalidField, fi.Name, fi.Encoding)
	}
	if !fi.Similarity.Valid() {
		return fmt.Errorf("%w: %s has similarity %d", ErrInvalidField, fi.Name, fi.Similarity)
	}
	return nil
}

// VectorBytes returns the encoded size of one vector.
func (fi FieldInfo) VectorBytes() int {
	return fi.Dimension * fi.Encoding.ByteSize()
}

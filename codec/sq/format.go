package sq

import (
	"context"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/quantization"
	"github.com/hupe1980/veccodec/scorer"
)

const (
	// Name identifies the format.
	Name = "ScalarQuantizedVectors"

	metaCodec = "ScalarQuantizedVectorsMeta"
	dataCodec = "ScalarQuantizedVectorsData"

	// MetaExtension and DataExtension are the file extensions of the format.
	MetaExtension = "vemq"
	DataExtension = "veq"

	versionStart   uint32 = 0
	versionCurrent        = versionStart
)

// Format quantizes float vectors to Bits bits per component.
type Format struct {
	// Bits is the code width in [1, 7]. Zero means quantization.DefaultBits.
	Bits uint8
	// ConfidenceInterval selects the quantiles. Zero means
	// quantization.DefaultConfidenceInterval of the field dimension.
	ConfidenceInterval float32
}

var _ codec.FlatFormat = Format{}

// NewFormat returns a Format with the given code width.
func NewFormat(bits uint8) Format { return Format{Bits: bits} }

func (Format) Name() string { return Name }

func (Format) Scorer() scorer.FlatVectorsScorer { return scorer.NewScalarQuantized() }

func (f Format) bits() uint8 {
	if f.Bits == 0 {
		return quantization.DefaultBits
	}
	return f.Bits
}

func (f Format) confidenceInterval(dim int) float32 {
	if f.ConfidenceInterval == 0 {
		return quantization.DefaultConfidenceInterval(dim)
	}
	return f.ConfidenceInterval
}

func (f Format) NewWriter(ctx context.Context, state *codec.SegmentWriteState) (codec.FlatVectorsWriter, error) {
	return NewWriter(ctx, state, f)
}

func (f Format) NewReader(ctx context.Context, state *codec.SegmentReadState) (codec.FlatVectorsReader, error) {
	return Open(ctx, state)
}

package flat

import (
	"context"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/scorer"
)

const (
	// Name identifies the format in codec headers.
	Name = "FlatVectors"

	metaCodec = "FlatVectorsMeta"
	dataCodec = "FlatVectorsData"

	// MetaExtension and DataExtension are the file extensions of the format.
	MetaExtension = "vemf"
	DataExtension = "vec"

	versionStart   uint32 = 0
	versionCurrent        = versionStart

	// dataAlignment aligns every vector section so mapped float vectors can
	// be viewed in place.
	dataAlignment = 64
)

// Format is the flat vector format. The zero value scores with
// scorer.Default.
type Format struct {
	// VectorScorer overrides the scorer. Nil means scorer.Default.
	VectorScorer scorer.FlatVectorsScorer
}

var _ codec.FlatFormat = Format{}

// NewFormat returns a Format using the default scorer.
func NewFormat() Format { return Format{} }

func (Format) Name() string { return Name }

func (f Format) Scorer() scorer.FlatVectorsScorer {
	if f.VectorScorer == nil {
		return scorer.Default{}
	}
	return f.VectorScorer
}

func (f Format) NewWriter(ctx context.Context, state *codec.SegmentWriteState) (codec.FlatVectorsWriter, error) {
	return NewWriter(ctx, state, f.Scorer())
}

func (f Format) NewReader(ctx context.Context, state *codec.SegmentReadState) (codec.FlatVectorsReader, error) {
	return Open(ctx, state, f.Scorer())
}

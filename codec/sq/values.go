package sq

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/quantization"
	"github.com/hupe1980/veccodec/vectors"
)

// QuantizedValues reads quantized records from a flat.Slab. Records are
// dim code bytes followed by a little-endian float32 correction.
type QuantizedValues struct {
	slab    *flat.Slab
	dim     int
	docs    *vectors.DocsWithFieldSet
	sq      *quantization.ScalarQuantizer
	raw     []byte
	lastOrd int
	last    []byte
}

var _ vectors.QuantizedByteVectorValues = (*QuantizedValues)(nil)

// NewQuantizedValues creates a cursor over slab.
func NewQuantizedValues(slab *flat.Slab, dim int, sq *quantization.ScalarQuantizer, docs *vectors.DocsWithFieldSet) *QuantizedValues {
	v := &QuantizedValues{slab: slab, dim: dim, docs: docs, sq: sq, lastOrd: -1}
	if !slab.Mapped() {
		v.raw = make([]byte, slab.Stride())
	}
	return v
}

func recordSize(dim int) int { return dim + 4 }

func (v *QuantizedValues) Dimension() int                           { return v.dim }
func (v *QuantizedValues) Size() int                                { return v.slab.Size() }
func (v *QuantizedValues) Encoding() distance.Encoding              { return distance.Byte }
func (v *QuantizedValues) Quantizer() *quantization.ScalarQuantizer { return v.sq }

func (v *QuantizedValues) OrdToDoc(ord int) int {
	if v.docs == nil {
		return ord
	}
	return v.docs.OrdToDoc(ord)
}

func (v *QuantizedValues) record(ord int) ([]byte, error) {
	if ord == v.lastOrd {
		return v.last, nil
	}
	rec, err := v.slab.Record(ord, v.raw)
	if err != nil {
		return nil, err
	}
	v.lastOrd, v.last = ord, rec
	return rec, nil
}

func (v *QuantizedValues) VectorValue(ord int) ([]byte, error) {
	rec, err := v.record(ord)
	if err != nil {
		return nil, err
	}
	return rec[:v.dim:v.dim], nil
}

func (v *QuantizedValues) ScoreCorrectionConstant(ord int) (float32, error) {
	rec, err := v.record(ord)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(rec[v.dim:])), nil
}

func (v *QuantizedValues) Copy() (vectors.QuantizedByteVectorValues, error) {
	return NewQuantizedValues(v.slab, v.dim, v.sq, v.docs), nil
}

// normalizedSource views float vectors as unit vectors so cosine fields
// learn quantiles over what is actually quantized.
type normalizedSource struct {
	quantization.FloatSource
	buf []float32
}

func sourceFor(sim distance.Similarity, src quantization.FloatSource) quantization.FloatSource {
	if sim != distance.Cosine {
		return src
	}
	return &normalizedSource{FloatSource: src, buf: make([]float32, src.Dimension())}
}

func (s *normalizedSource) VectorValue(ord int) ([]float32, error) {
	vec, err := s.FloatSource.VectorValue(ord)
	if err != nil {
		return nil, err
	}
	copy(s.buf, vec)
	distance.NormalizeL2InPlace(s.buf)
	return s.buf, nil
}

func appendRecord(dst, codes []byte, corr float32) []byte {
	dst = append(dst, codes...)
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(corr))
}

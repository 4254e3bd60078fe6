package vectors

import (
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/quantization"
)

// FloatSlice is an in-memory FloatVectorValues over caller-owned vectors.
// The vectors must not be modified while the accessor is in use.
type FloatSlice struct {
	dim  int
	vecs [][]float32
	docs *DocsWithFieldSet
}

// NewFloatSlice creates an accessor. A nil docs maps every ordinal to the
// document with the same id.
func NewFloatSlice(dim int, vecs [][]float32, docs *DocsWithFieldSet) (*FloatSlice, error) {
	for _, v := range vecs {
		if err := CheckDimension(dim, len(v)); err != nil {
			return nil, err
		}
	}
	return &FloatSlice{dim: dim, vecs: vecs, docs: docs}, nil
}

func (s *FloatSlice) Dimension() int              { return s.dim }
func (s *FloatSlice) Size() int                   { return len(s.vecs) }
func (s *FloatSlice) Encoding() distance.Encoding { return distance.Float32 }
func (s *FloatSlice) OrdToDoc(ord int) int        { return ordToDoc(s.docs, ord) }

func (s *FloatSlice) VectorValue(ord int) ([]float32, error) {
	if ord < 0 || ord >= len(s.vecs) {
		return nil, ErrOrdOutOfRange
	}
	return s.vecs[ord], nil
}

func (s *FloatSlice) Copy() (FloatVectorValues, error) {
	return &FloatSlice{dim: s.dim, vecs: s.vecs, docs: s.docs}, nil
}

// ByteSlice is an in-memory ByteVectorValues over caller-owned vectors.
type ByteSlice struct {
	dim  int
	vecs [][]byte
	docs *DocsWithFieldSet
}

// NewByteSlice creates an accessor. A nil docs maps every ordinal to the
// document with the same id.
func NewByteSlice(dim int, vecs [][]byte, docs *DocsWithFieldSet) (*ByteSlice, error) {
	for _, v := range vecs {
		if err := CheckDimension(dim, len(v)); err != nil {
			return nil, err
		}
	}
	return &ByteSlice{dim: dim, vecs: vecs, docs: docs}, nil
}

func (s *ByteSlice) Dimension() int              { return s.dim }
func (s *ByteSlice) Size() int                   { return len(s.vecs) }
func (s *ByteSlice) Encoding() distance.Encoding { return distance.Byte }
func (s *ByteSlice) OrdToDoc(ord int) int        { return ordToDoc(s.docs, ord) }

func (s *ByteSlice) VectorValue(ord int) ([]byte, error) {
	if ord < 0 || ord >= len(s.vecs) {
		return nil, ErrOrdOutOfRange
	}
	return s.vecs[ord], nil
}

func (s *ByteSlice) Copy() (ByteVectorValues, error) {
	return &ByteSlice{dim: s.dim, vecs: s.vecs, docs: s.docs}, nil
}

// QuantizedSlice is an in-memory QuantizedByteVectorValues.
type QuantizedSlice struct {
	dim   int
	codes [][]byte
	corrs []float32
	sq    *quantization.ScalarQuantizer
	docs  *DocsWithFieldSet
}

// NewQuantizedSlice quantizes vecs with sq for the given similarity.
// Cosine vectors are normalized on a copy before quantization.
func NewQuantizedSlice(dim int, vecs [][]float32, sq *quantization.ScalarQuantizer, sim distance.Similarity, docs *DocsWithFieldSet) (*QuantizedSlice, error) {
	codes := make([][]byte, len(vecs))
	corrs := make([]float32, len(vecs))
	backing := make([]byte, len(vecs)*dim)
	for i, v := range vecs {
		if err := CheckDimension(dim, len(v)); err != nil {
			return nil, err
		}
		codes[i] = backing[i*dim : (i+1)*dim : (i+1)*dim]
		corrs[i] = sq.QuantizeQuery(v, codes[i], sim)
	}
	return &QuantizedSlice{dim: dim, codes: codes, corrs: corrs, sq: sq, docs: docs}, nil
}

func (s *QuantizedSlice) Dimension() int                           { return s.dim }
func (s *QuantizedSlice) Size() int                                { return len(s.codes) }
func (s *QuantizedSlice) Encoding() distance.Encoding              { return distance.Byte }
func (s *QuantizedSlice) OrdToDoc(ord int) int                     { return ordToDoc(s.docs, ord) }
func (s *QuantizedSlice) Quantizer() *quantization.ScalarQuantizer { return s.sq }

func (s *QuantizedSlice) VectorValue(ord int) ([]byte, error) {
	if ord < 0 || ord >= len(s.codes) {
		return nil, ErrOrdOutOfRange
	}
	return s.codes[ord], nil
}

func (s *QuantizedSlice) ScoreCorrectionConstant(ord int) (float32, error) {
	if ord < 0 || ord >= len(s.corrs) {
		return 0, ErrOrdOutOfRange
	}
	return s.corrs[ord], nil
}

func (s *QuantizedSlice) Copy() (QuantizedByteVectorValues, error) {
	cp := *s
	return &cp, nil
}

func ordToDoc(docs *DocsWithFieldSet, ord int) int {
	if docs == nil {
		return ord
	}
	return docs.OrdToDoc(ord)
}

package scorer

import (
	"fmt"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/quantization"
	"github.com/hupe1980/veccodec/vectors"
)

// ScalarQuantized scores scalar quantized vectors. Values that are not
// quantized are handed to Delegate.
type ScalarQuantized struct {
	Delegate FlatVectorsScorer
}

var _ FlatVectorsScorer = ScalarQuantized{}

// NewScalarQuantized returns a quantized scorer that falls back to Default.
func NewScalarQuantized() ScalarQuantized {
	return ScalarQuantized{Delegate: Default{}}
}

func (s ScalarQuantized) delegate() FlatVectorsScorer {
	if s.Delegate == nil {
		return Default{}
	}
	return s.Delegate
}

func (s ScalarQuantized) SupplierFor(sim distance.Similarity, values vectors.KnnVectorValues) (RandomVectorScorerSupplier, error) {
	qv, ok := values.(vectors.QuantizedByteVectorValues)
	if !ok {
		return s.delegate().SupplierFor(sim, values)
	}
	return newQuantizedSupplier(sim, qv)
}

// ScorerForFloat quantizes target with the values' quantizer. Cosine queries
// are normalized on a copy first.
func (s ScalarQuantized) ScorerForFloat(sim distance.Similarity, values vectors.KnnVectorValues, target []float32) (RandomVectorScorer, error) {
	qv, ok := values.(vectors.QuantizedByteVectorValues)
	if !ok {
		return s.delegate().ScorerForFloat(sim, values, target)
	}
	if err := vectors.CheckDimension(qv.Dimension(), len(target)); err != nil {
		return nil, err
	}
	sq := qv.Quantizer()
	query := make([]byte, len(target))
	offset := sq.QuantizeQuery(target, query, sim)
	return &quantizedScorer{
		values:      qv,
		similarity:  quantization.NewVectorSimilarity(sim, sq.ConstantMultiplier()),
		query:       query,
		queryOffset: offset,
	}, nil
}

func (s ScalarQuantized) ScorerForBytes(sim distance.Similarity, values vectors.KnnVectorValues, target []byte) (RandomVectorScorer, error) {
	if _, ok := values.(vectors.QuantizedByteVectorValues); ok {
		return nil, fmt.Errorf("%w: byte query against quantized float vectors", vectors.ErrUnsupportedEncoding)
	}
	return s.delegate().ScorerForBytes(sim, values, target)
}

type quantizedScorer struct {
	values      vectors.QuantizedByteVectorValues
	similarity  quantization.VectorSimilarity
	query       []byte
	queryOffset float32
}

func (s *quantizedScorer) Score(ord int) (float32, error) {
	v, err := s.values.VectorValue(ord)
	if err != nil {
		return 0, err
	}
	off, err := s.values.ScoreCorrectionConstant(ord)
	if err != nil {
		return 0, err
	}
	return s.similarity.Score(s.query, s.queryOffset, v, off), nil
}

func (s *quantizedScorer) MaxOrd() int          { return s.values.Size() }
func (s *quantizedScorer) OrdToDoc(ord int) int { return s.values.OrdToDoc(ord) }

type updateableQuantizedScorer struct {
	quantizedScorer
	targets vectors.QuantizedByteVectorValues
	bound   bool
}

func (s *updateableQuantizedScorer) SetScoringOrdinal(ord int) error {
	v, err := s.targets.VectorValue(ord)
	if err != nil {
		return err
	}
	off, err := s.targets.ScoreCorrectionConstant(ord)
	if err != nil {
		return err
	}
	copy(s.query, v)
	s.queryOffset = off
	s.bound = true
	return nil
}

func (s *updateableQuantizedScorer) Score(ord int) (float32, error) {
	if !s.bound {
		return 0, ErrScoringOrdinalUnset
	}
	return s.quantizedScorer.Score(ord)
}

// QuantizedSupplier is the supplier returned for quantized values.
type QuantizedSupplier struct {
	sim        distance.Similarity
	values     vectors.QuantizedByteVectorValues
	similarity quantization.VectorSimilarity
}

func newQuantizedSupplier(sim distance.Similarity, values vectors.QuantizedByteVectorValues) (*QuantizedSupplier, error) {
	cp, err := values.Copy()
	if err != nil {
		return nil, err
	}
	return &QuantizedSupplier{
		sim:        sim,
		values:     cp,
		similarity: quantization.NewVectorSimilarity(sim, cp.Quantizer().ConstantMultiplier()),
	}, nil
}

// Quantizer returns the quantizer the codes were produced with.
func (s *QuantizedSupplier) Quantizer() *quantization.ScalarQuantizer { return s.values.Quantizer() }

func (s *QuantizedSupplier) Scorer() (UpdateableRandomVectorScorer, error) {
	scoring, err := s.values.Copy()
	if err != nil {
		return nil, err
	}
	targets, err := s.values.Copy()
	if err != nil {
		return nil, err
	}
	return &updateableQuantizedScorer{
		quantizedScorer: quantizedScorer{
			values:     scoring,
			similarity: s.similarity,
			query:      make([]byte, s.values.Dimension()),
		},
		targets: targets,
	}, nil
}

func (s *QuantizedSupplier) Copy() (RandomVectorScorerSupplier, error) {
	return newQuantizedSupplier(s.sim, s.values)
}

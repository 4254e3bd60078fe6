package scorer

import (
	"fmt"
	"slices"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/vectors"
)

// Default scores raw float and byte vectors with the plain similarity
// functions.
type Default struct{}

var _ FlatVectorsScorer = Default{}

// SupplierFor dispatches on the accessor's encoding.
func (Default) SupplierFor(sim distance.Similarity, values vectors.KnnVectorValues) (RandomVectorScorerSupplier, error) {
	switch values.Encoding() {
	case distance.Float32:
		fv, ok := values.(vectors.FloatVectorValues)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a float accessor", vectors.ErrUnsupportedEncoding, values)
		}
		return newFloatSupplier(sim, fv)
	case distance.Byte:
		bv, ok := values.(vectors.ByteVectorValues)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a byte accessor", vectors.ErrUnsupportedEncoding, values)
		}
		return newByteSupplier(sim, bv)
	default:
		return nil, fmt.Errorf("%w: %s", vectors.ErrUnsupportedEncoding, values.Encoding())
	}
}

// ScorerForFloat binds a float query. The query is copied.
func (Default) ScorerForFloat(sim distance.Similarity, values vectors.KnnVectorValues, target []float32) (RandomVectorScorer, error) {
	fv, ok := values.(vectors.FloatVectorValues)
	if !ok {
		return nil, fmt.Errorf("%w: float query against %s vectors", vectors.ErrUnsupportedEncoding, values.Encoding())
	}
	if err := vectors.CheckDimension(fv.Dimension(), len(target)); err != nil {
		return nil, err
	}
	return &floatScorer{sim: sim, values: fv, query: slices.Clone(target)}, nil
}

// ScorerForBytes binds a byte query. The query is copied.
func (Default) ScorerForBytes(sim distance.Similarity, values vectors.KnnVectorValues, target []byte) (RandomVectorScorer, error) {
	bv, ok := values.(vectors.ByteVectorValues)
	if !ok {
		return nil, fmt.Errorf("%w: byte query against %s vectors", vectors.ErrUnsupportedEncoding, values.Encoding())
	}
	if err := vectors.CheckDimension(bv.Dimension(), len(target)); err != nil {
		return nil, err
	}
	return &byteScorer{sim: sim, values: bv, query: slices.Clone(target)}, nil
}

type floatScorer struct {
	sim    distance.Similarity
	values vectors.FloatVectorValues
	query  []float32
}

func (s *floatScorer) Score(ord int) (float32, error) {
	v, err := s.values.VectorValue(ord)
	if err != nil {
		return 0, err
	}
	return s.sim.Compare(s.query, v), nil
}

func (s *floatScorer) MaxOrd() int          { return s.values.Size() }
func (s *floatScorer) OrdToDoc(ord int) int { return s.values.OrdToDoc(ord) }

// updateableFloatScorer reads the bound ordinal through its own cursor so
// the query survives later VectorValue calls on the scoring cursor.
type updateableFloatScorer struct {
	floatScorer
	targets vectors.FloatVectorValues
	bound   bool
}

func (s *updateableFloatScorer) SetScoringOrdinal(ord int) error {
	v, err := s.targets.VectorValue(ord)
	if err != nil {
		return err
	}
	copy(s.query, v)
	s.bound = true
	return nil
}

func (s *updateableFloatScorer) Score(ord int) (float32, error) {
	if !s.bound {
		return 0, ErrScoringOrdinalUnset
	}
	return s.floatScorer.Score(ord)
}

type floatSupplier struct {
	sim    distance.Similarity
	values vectors.FloatVectorValues
}

func newFloatSupplier(sim distance.Similarity, values vectors.FloatVectorValues) (*floatSupplier, error) {
	cp, err := values.Copy()
	if err != nil {
		return nil, err
	}
	return &floatSupplier{sim: sim, values: cp}, nil
}

func (s *floatSupplier) Scorer() (UpdateableRandomVectorScorer, error) {
	scoring, err := s.values.Copy()
	if err != nil {
		return nil, err
	}
	targets, err := s.values.Copy()
	if err != nil {
		return nil, err
	}
	return &updateableFloatScorer{
		floatScorer: floatScorer{sim: s.sim, values: scoring, query: make([]float32, s.values.Dimension())},
		targets:     targets,
	}, nil
}

func (s *floatSupplier) Copy() (RandomVectorScorerSupplier, error) {
	return newFloatSupplier(s.sim, s.values)
}

type byteScorer struct {
	sim    distance.Similarity
	values vectors.ByteVectorValues
	query  []byte
}

func (s *byteScorer) Score(ord int) (float32, error) {
	v, err := s.values.VectorValue(ord)
	if err != nil {
		return 0, err
	}
	return s.sim.CompareBytes(s.query, v), nil
}

func (s *byteScorer) MaxOrd() int          { return s.values.Size() }
func (s *byteScorer) OrdToDoc(ord int) int { return s.values.OrdToDoc(ord) }

type updateableByteScorer struct {
	byteScorer
	targets vectors.ByteVectorValues
	bound   bool
}

func (s *updateableByteScorer) SetScoringOrdinal(ord int) error {
	v, err := s.targets.VectorValue(ord)
	if err != nil {
		return err
	}
	copy(s.query, v)
	s.bound = true
	return nil
}

func (s *updateableByteScorer) Score(ord int) (float32, error) {
	if !s.bound {
		return 0, ErrScoringOrdinalUnset
	}
	return s.byteScorer.Score(ord)
}

type byteSupplier struct {
	sim    distance.Similarity
	values vectors.ByteVectorValues
}

func newByteSupplier(sim distance.Similarity, values vectors.ByteVectorValues) (*byteSupplier, error) {
	cp, err := values.Copy()
	if err != nil {
		return nil, err
	}
	return &byteSupplier{sim: sim, values: cp}, nil
}

func (s *byteSupplier) Scorer() (UpdateableRandomVectorScorer, error) {
	scoring, err := s.values.Copy()
	if err != nil {
		return nil, err
	}
	targets, err := s.values.Copy()
	if err != nil {
		return nil, err
	}
	return &updateableByteScorer{
		byteScorer: byteScorer{sim: s.sim, values: scoring, query: make([]byte, s.values.Dimension())},
		targets:    targets,
	}, nil
}

func (s *byteSupplier) Copy() (RandomVectorScorerSupplier, error) {
	return newByteSupplier(s.sim, s.values)
}

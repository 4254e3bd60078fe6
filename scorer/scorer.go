package scorer

import (
	"errors"
	"io"
	"sync"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/vectors"
)

// ErrScoringOrdinalUnset is returned when an updateable scorer is asked to
// score before a query ordinal was bound.
var ErrScoringOrdinalUnset = errors.New("scorer: scoring ordinal not set")

// RandomVectorScorer scores vector ordinals against a bound query.
type RandomVectorScorer interface {
	// Score returns the similarity between the query and the vector at ord.
	Score(ord int) (float32, error)
	// MaxOrd returns the exclusive upper bound of valid ordinals.
	MaxOrd() int
	// OrdToDoc maps an ordinal to its document id.
	OrdToDoc(ord int) int
}

// UpdateableRandomVectorScorer is a scorer whose query can be rebound to a
// stored vector.
type UpdateableRandomVectorScorer interface {
	RandomVectorScorer
	SetScoringOrdinal(ord int) error
}

// RandomVectorScorerSupplier creates independent scorers over one set of
// vectors.
type RandomVectorScorerSupplier interface {
	Scorer() (UpdateableRandomVectorScorer, error)
	Copy() (RandomVectorScorerSupplier, error)
}

// CloseableRandomVectorScorerSupplier is a supplier that owns a resource,
// typically the temporary blob holding merged vectors.
type CloseableRandomVectorScorerSupplier interface {
	RandomVectorScorerSupplier
	io.Closer
	TotalVectorCount() int
}

// FlatVectorsScorer creates scorers and suppliers over flat vector values.
type FlatVectorsScorer interface {
	SupplierFor(sim distance.Similarity, values vectors.KnnVectorValues) (RandomVectorScorerSupplier, error)
	ScorerForFloat(sim distance.Similarity, values vectors.KnnVectorValues, target []float32) (RandomVectorScorer, error)
	ScorerForBytes(sim distance.Similarity, values vectors.KnnVectorValues, target []byte) (RandomVectorScorer, error)
}

type closeableSupplier struct {
	RandomVectorScorerSupplier
	total   int
	once    sync.Once
	onClose func() error
	err     error
}

// NewCloseableSupplier wraps inner so that onClose runs exactly once, on the
// first Close call. Later calls return the first result.
func NewCloseableSupplier(inner RandomVectorScorerSupplier, total int, onClose func() error) CloseableRandomVectorScorerSupplier {
	return &closeableSupplier{RandomVectorScorerSupplier: inner, total: total, onClose: onClose}
}

func (c *closeableSupplier) TotalVectorCount() int { return c.total }

func (c *closeableSupplier) Close() error {
	c.once.Do(func() {
		if c.onClose != nil {
			c.err = c.onClose()
		}
	})
	return c.err
}

package codec

import (
	"context"

	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/vectors"
)

// FlatFormat stores vectors without any index structure. Graph formats
// compose a FlatFormat for vector storage and scoring.
type FlatFormat interface {
	Name() string
	// Scorer returns the scorer that matches the stored representation.
	Scorer() scorer.FlatVectorsScorer
	NewWriter(ctx context.Context, state *SegmentWriteState) (FlatVectorsWriter, error)
	NewReader(ctx context.Context, state *SegmentReadState) (FlatVectorsReader, error)
}

// FlatFieldWriter buffers the vectors of one field until flush.
type FlatFieldWriter interface {
	Field() FieldInfo
	// AddFloat adds the vector of doc. Documents must be strictly increasing.
	AddFloat(doc int, vec []float32) error
	// AddBytes is the byte encoding counterpart of AddFloat.
	AddBytes(doc int, vec []byte) error
	// Finish seals the field. It is idempotent.
	Finish() error
	// Values returns the buffered vectors in the representation the
	// format's Scorer expects. It finishes the field.
	Values() (vectors.KnnVectorValues, error)
	Docs() *vectors.DocsWithFieldSet
}

// FlatVectorsWriter writes the flat vector files of one segment.
//
// A writer either flushes buffered fields or merges fields of existing
// segments. Nothing is visible until Finish; Close without Finish discards
// every file the writer created.
type FlatVectorsWriter interface {
	AddField(fi FieldInfo) (FlatFieldWriter, error)
	// Flush writes every added field. maxDoc bounds the document ids.
	Flush(ctx context.Context, maxDoc int) error
	MergeOneField(ctx context.Context, fi FieldInfo, ms *MergeState) error
	// MergeOneFieldToIndex merges like MergeOneField and returns a supplier
	// over the merged vectors for graph construction. Closing the supplier
	// deletes its temporary blob.
	MergeOneFieldToIndex(ctx context.Context, fi FieldInfo, ms *MergeState) (scorer.CloseableRandomVectorScorerSupplier, error)
	Finish(ctx context.Context) error
	Close() error
}

// FlatVectorsReader reads the flat vector files of one segment.
type FlatVectorsReader interface {
	Fields() []FieldInfo
	FieldInfo(field string) (FieldInfo, error)
	// Docs returns the documents that have a vector for field.
	Docs(field string) (*vectors.DocsWithFieldSet, error)
	FloatVectorValues(field string) (vectors.FloatVectorValues, error)
	ByteVectorValues(field string) (vectors.ByteVectorValues, error)
	// RandomVectorScorer binds a float query to the field's vectors.
	RandomVectorScorer(field string, target []float32) (scorer.RandomVectorScorer, error)
	// RandomVectorScorerForBytes binds a byte query to the field's vectors.
	RandomVectorScorerForBytes(field string, target []byte) (scorer.RandomVectorScorer, error)
	// RandomVectorScorerSupplier scores the field's vectors against each other.
	RandomVectorScorerSupplier(field string) (scorer.RandomVectorScorerSupplier, error)
	// MergeInstance returns a reader tuned for one sequential pass. Closing
	// it ends the pass and leaves the receiver open.
	MergeInstance() FlatVectorsReader
	CheckIntegrity(ctx context.Context) error
	Close() error
}

package flat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/vectors"
)

type fieldEntry struct {
	info   codec.FieldInfo
	offset int64
	length int64
	size   int
	docs   *vectors.DocsWithFieldSet
	slab   *Slab
}

// Reader reads the flat vector files of one segment. It is safe for
// concurrent use; every accessor it returns is a single-goroutine cursor.
type Reader struct {
	segment string
	scorer  scorer.FlatVectorsScorer
	logger  *slog.Logger
	data    *codec.Input
	access  *codec.MergeAccess
	fields  map[string]*fieldEntry
	order   []string
}

var _ codec.FlatVectorsReader = (*Reader)(nil)

// Open reads the meta file, verifies its checksum and opens the data file.
func Open(ctx context.Context, state *codec.SegmentReadState, sc scorer.FlatVectorsScorer) (*Reader, error) {
	if sc == nil {
		sc = scorer.Default{}
	}
	metaName := codec.FileName(state.Segment, MetaExtension)
	meta, err := codec.OpenInput(ctx, state.Store, metaName, metaCodec, versionStart, versionCurrent, state.Segment)
	if err != nil {
		return nil, err
	}
	defer meta.Close()

	if err := meta.CheckIntegrity(ctx); err != nil {
		return nil, err
	}
	body, err := meta.ReadBody(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := readFields(metaName, body)
	if err != nil {
		return nil, err
	}

	dataName := codec.FileName(state.Segment, DataExtension)
	data, err := codec.OpenInput(ctx, state.Store, dataName, dataCodec, versionStart, versionCurrent, state.Segment)
	if err != nil {
		return nil, err
	}
	if data.Version != meta.Version {
		_ = data.Close()
		return nil, codec.Corruptf(dataName, "version %d, meta has %d", data.Version, meta.Version)
	}

	r := &Reader{
		segment: state.Segment,
		scorer:  sc,
		logger:  codec.LoggerOrDiscard(state.Logger),
		data:    data,
		fields:  make(map[string]*fieldEntry, len(entries)),
	}
	r.access = codec.NewMergeAccess(data, r.logger)
	for _, e := range entries {
		if e.offset < data.HeaderLength || e.offset+e.length > data.BodyEnd() {
			_ = data.Close()
			return nil, codec.Corruptf(dataName, "field %s section [%d, %d) outside body", e.info.Name, e.offset, e.offset+e.length)
		}
		if e.length != int64(e.size)*int64(e.info.VectorBytes()) {
			_ = data.Close()
			return nil, codec.Corruptf(dataName, "field %s has %d bytes for %d vectors", e.info.Name, e.length, e.size)
		}
		if e.slab, err = NewSlab(data.Blob, dataName, e.offset, e.size, e.info.VectorBytes()); err != nil {
			_ = data.Close()
			return nil, err
		}
		r.fields[e.info.Name] = e
		r.order = append(r.order, e.info.Name)
	}
	return r, nil
}

func readFields(name string, body []byte) ([]*fieldEntry, error) {
	br := codec.NewByteReader(name, body)
	var entries []*fieldEntry
	seen := make(map[string]bool)
	for {
		number := br.Int32()
		if br.Err() != nil {
			return nil, br.Err()
		}
		if number == -1 {
			break
		}
		e := &fieldEntry{}
		e.info.Number = int(number)
		e.info.Name = br.ShortString()
		e.info.Encoding = distance.Encoding(br.Byte())
		e.info.Similarity = distance.Similarity(br.Byte())
		e.info.Dimension = int(br.Uint32())
		e.offset = int64(br.Uint64())
		e.length = int64(br.Uint64())
		e.size = int(br.Uint32())
		docBytes := br.Bytes()
		if br.Err() != nil {
			return nil, br.Err()
		}
		if err := e.info.Validate(); err != nil {
			return nil, codec.Corruptf(name, "%v", err)
		}
		if seen[e.info.Name] {
			return nil, codec.Corruptf(name, "duplicate field %s", e.info.Name)
		}
		seen[e.info.Name] = true
		e.docs = vectors.NewDocsWithFieldSet()
		if err := e.docs.UnmarshalBinary(docBytes); err != nil {
			return nil, codec.Corruptf(name, "field %s: %v", e.info.Name, err)
		}
		if e.docs.Cardinality() != e.size {
			return nil, codec.Corruptf(name, "field %s has %d vectors and %d documents", e.info.Name, e.size, e.docs.Cardinality())
		}
		entries = append(entries, e)
	}
	if br.Len() != 0 {
		return nil, codec.Corruptf(name, "%d trailing bytes", br.Len())
	}
	return entries, nil
}

func (r *Reader) entry(field string) (*fieldEntry, error) {
	e, ok := r.fields[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s in segment %s", codec.ErrFieldNotFound, field, r.segment)
	}
	return e, nil
}

// Fields returns the stored fields in write order.
func (r *Reader) Fields() []codec.FieldInfo {
	out := make([]codec.FieldInfo, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.fields[name].info)
	}
	return out
}

func (r *Reader) FieldInfo(field string) (codec.FieldInfo, error) {
	e, err := r.entry(field)
	if err != nil {
		return codec.FieldInfo{}, err
	}
	return e.info, nil
}

// Docs returns the documents that have a vector for field.
func (r *Reader) Docs(field string) (*vectors.DocsWithFieldSet, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	return e.docs, nil
}

func (r *Reader) FloatVectorValues(field string) (vectors.FloatVectorValues, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	if e.info.Encoding != distance.Float32 {
		return nil, fmt.Errorf("%w: field %s stores %s vectors", vectors.ErrUnsupportedEncoding, field, e.info.Encoding)
	}
	return NewFloatValues(e.slab, e.info.Dimension, e.docs), nil
}

func (r *Reader) ByteVectorValues(field string) (vectors.ByteVectorValues, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	if e.info.Encoding != distance.Byte {
		return nil, fmt.Errorf("%w: field %s stores %s vectors", vectors.ErrUnsupportedEncoding, field, e.info.Encoding)
	}
	return NewByteValues(e.slab, e.info.Dimension, e.docs), nil
}

func (r *Reader) values(field string) (vectors.KnnVectorValues, codec.FieldInfo, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, codec.FieldInfo{}, err
	}
	if e.info.Encoding == distance.Float32 {
		return NewFloatValues(e.slab, e.info.Dimension, e.docs), e.info, nil
	}
	return NewByteValues(e.slab, e.info.Dimension, e.docs), e.info, nil
}

func (r *Reader) RandomVectorScorer(field string, target []float32) (scorer.RandomVectorScorer, error) {
	values, fi, err := r.values(field)
	if err != nil {
		return nil, err
	}
	return r.scorer.ScorerForFloat(fi.Similarity, values, target)
}

func (r *Reader) RandomVectorScorerForBytes(field string, target []byte) (scorer.RandomVectorScorer, error) {
	values, fi, err := r.values(field)
	if err != nil {
		return nil, err
	}
	return r.scorer.ScorerForBytes(fi.Similarity, values, target)
}

func (r *Reader) RandomVectorScorerSupplier(field string) (scorer.RandomVectorScorerSupplier, error) {
	values, fi, err := r.values(field)
	if err != nil {
		return nil, err
	}
	return r.scorer.SupplierFor(fi.Similarity, values)
}

// MergeInstance hints sequential access to the data file until the
// returned reader is closed. Closing it leaves r open.
func (r *Reader) MergeInstance() codec.FlatVectorsReader {
	r.access.Acquire()
	return &mergeReader{Reader: r}
}

type mergeReader struct {
	*Reader
	once sync.Once
}

func (m *mergeReader) MergeInstance() codec.FlatVectorsReader { return m }

func (m *mergeReader) Close() error {
	m.once.Do(m.access.Release)
	return nil
}

// CheckIntegrity verifies the data file checksum.
func (r *Reader) CheckIntegrity(ctx context.Context) error {
	return r.data.CheckIntegrity(ctx)
}

func (r *Reader) Close() error {
	return r.data.Close()
}

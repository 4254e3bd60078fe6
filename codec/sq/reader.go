package sq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/quantization"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/vectors"
)

type quantizedEntry struct {
	info codec.FieldInfo
	sq   *quantization.ScalarQuantizer
	docs *vectors.DocsWithFieldSet
	slab *flat.Slab
}

// Reader serves raw vectors from the flat files and scores with the
// quantized codes.
type Reader struct {
	raw     *flat.Reader
	data    *codec.Input
	access  *codec.MergeAccess
	segment string
	fields  map[string]*quantizedEntry
	scorer  scorer.ScalarQuantized
}

var _ codec.FlatVectorsReader = (*Reader)(nil)

// Open opens the raw and quantized files of a segment.
func Open(ctx context.Context, state *codec.SegmentReadState) (*Reader, error) {
	raw, err := flat.Open(ctx, state, nil)
	if err != nil {
		return nil, err
	}
	r, err := open(ctx, state, raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return r, nil
}

func open(ctx context.Context, state *codec.SegmentReadState, raw *flat.Reader) (*Reader, error) {
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

	dataName := codec.FileName(state.Segment, DataExtension)
	data, err := codec.OpenInput(ctx, state.Store, dataName, dataCodec, versionStart, versionCurrent, state.Segment)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		raw:     raw,
		data:    data,
		segment: state.Segment,
		fields:  make(map[string]*quantizedEntry),
		scorer:  scorer.NewScalarQuantized(),
	}
	r.access = codec.NewMergeAccess(data, state.Logger)
	if err := r.readFields(metaName, body); err != nil {
		_ = data.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readFields(name string, body []byte) error {
	br := codec.NewByteReader(name, body)
	for {
		number := br.Int32()
		if br.Err() != nil {
			return br.Err()
		}
		if number == -1 {
			break
		}
		fieldName := br.ShortString()
		dim := int(br.Uint32())
		offset := int64(br.Uint64())
		length := int64(br.Uint64())
		count := int(br.Uint32())
		qb := br.Bytes()
		if br.Err() != nil {
			return br.Err()
		}

		info, err := r.raw.FieldInfo(fieldName)
		if err != nil {
			return codec.Corruptf(name, "quantized field %s has no raw vectors", fieldName)
		}
		if info.Number != int(number) || info.Dimension != dim {
			return codec.Corruptf(name, "field %s does not match its raw vectors", fieldName)
		}
		docs, err := r.raw.Docs(fieldName)
		if err != nil {
			return err
		}
		if docs.Cardinality() != count {
			return codec.Corruptf(name, "field %s has %d codes for %d vectors", fieldName, count, docs.Cardinality())
		}
		if length != int64(count)*int64(recordSize(dim)) || offset < r.data.HeaderLength || offset+length > r.data.BodyEnd() {
			return codec.Corruptf(name, "field %s section [%d, %d) invalid", fieldName, offset, offset+length)
		}
		q := new(quantization.ScalarQuantizer)
		if err := q.UnmarshalBinary(qb); err != nil {
			return codec.Corruptf(name, "field %s: %v", fieldName, err)
		}
		slab, err := flat.NewSlab(r.data.Blob, r.data.Name, offset, count, recordSize(dim))
		if err != nil {
			return err
		}
		r.fields[fieldName] = &quantizedEntry{info: info, sq: q, docs: docs, slab: slab}
	}
	if br.Len() != 0 {
		return codec.Corruptf(name, "%d trailing bytes", br.Len())
	}
	return nil
}

func (r *Reader) entry(field string) (*quantizedEntry, error) {
	e, ok := r.fields[field]
	if !ok {
		if _, err := r.raw.FieldInfo(field); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s has no quantized vectors in segment %s", codec.ErrFieldNotFound, field, r.segment)
	}
	return e, nil
}

func (r *Reader) Fields() []codec.FieldInfo { return r.raw.Fields() }

func (r *Reader) FieldInfo(field string) (codec.FieldInfo, error) { return r.raw.FieldInfo(field) }

func (r *Reader) Docs(field string) (*vectors.DocsWithFieldSet, error) { return r.raw.Docs(field) }

// Quantizer returns the quantizer of field.
func (r *Reader) Quantizer(field string) (*quantization.ScalarQuantizer, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	return e.sq, nil
}

// FloatVectorValues returns the raw vectors.
func (r *Reader) FloatVectorValues(field string) (vectors.FloatVectorValues, error) {
	return r.raw.FloatVectorValues(field)
}

func (r *Reader) ByteVectorValues(field string) (vectors.ByteVectorValues, error) {
	return r.raw.ByteVectorValues(field)
}

// QuantizedVectorValues returns the codes of field.
func (r *Reader) QuantizedVectorValues(field string) (vectors.QuantizedByteVectorValues, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	return NewQuantizedValues(e.slab, e.info.Dimension, e.sq, e.docs), nil
}

// RandomVectorScorer quantizes target and scores it against the codes.
func (r *Reader) RandomVectorScorer(field string, target []float32) (scorer.RandomVectorScorer, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	return r.scorer.ScorerForFloat(e.info.Similarity, NewQuantizedValues(e.slab, e.info.Dimension, e.sq, e.docs), target)
}

func (r *Reader) RandomVectorScorerForBytes(field string, _ []byte) (scorer.RandomVectorScorer, error) {
	if _, err := r.entry(field); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: byte query against quantized field %s", vectors.ErrUnsupportedEncoding, field)
}

// RandomVectorScorerSupplier returns a *scorer.QuantizedSupplier.
func (r *Reader) RandomVectorScorerSupplier(field string) (scorer.RandomVectorScorerSupplier, error) {
	e, err := r.entry(field)
	if err != nil {
		return nil, err
	}
	return r.scorer.SupplierFor(e.info.Similarity, NewQuantizedValues(e.slab, e.info.Dimension, e.sq, e.docs))
}

// MergeInstance hints sequential access to the raw and quantized files
// until the returned reader is closed. Closing it leaves r open.
func (r *Reader) MergeInstance() codec.FlatVectorsReader {
	raw := r.raw.MergeInstance()
	r.access.Acquire()
	return &mergeReader{Reader: r, raw: raw}
}

type mergeReader struct {
	*Reader
	raw  codec.FlatVectorsReader
	once sync.Once
}

func (m *mergeReader) MergeInstance() codec.FlatVectorsReader { return m }

func (m *mergeReader) Close() error {
	var err error
	m.once.Do(func() {
		m.access.Release()
		err = m.raw.Close()
	})
	return err
}

func (r *Reader) CheckIntegrity(ctx context.Context) error {
	if err := r.raw.CheckIntegrity(ctx); err != nil {
		return err
	}
	return r.data.CheckIntegrity(ctx)
}

func (r *Reader) Close() error {
	return errors.Join(r.data.Close(), r.raw.Close())
}

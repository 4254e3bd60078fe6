package flat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/vectors"
)

// Writer writes the flat vector files of one segment.
type Writer struct {
	state   *codec.SegmentWriteState
	scorer  scorer.FlatVectorsScorer
	logger  *slog.Logger
	metrics codec.MetricsCollector

	meta *codec.Output
	data *codec.Output

	fields  []*FieldWriter
	written map[string]struct{}
	closed  bool
}

var _ codec.FlatVectorsWriter = (*Writer)(nil)

// NewWriter creates the segment's .vec and .vemf files. A nil sc means
// scorer.Default.
func NewWriter(ctx context.Context, state *codec.SegmentWriteState, sc scorer.FlatVectorsScorer) (*Writer, error) {
	if sc == nil {
		sc = scorer.Default{}
	}
	data, err := codec.CreateOutput(ctx, state.Store, codec.FileName(state.Segment, DataExtension), dataCodec, versionCurrent, state.Segment, state.Resources)
	if err != nil {
		return nil, err
	}
	meta, err := codec.CreateOutput(ctx, state.Store, codec.FileName(state.Segment, MetaExtension), metaCodec, versionCurrent, state.Segment, state.Resources)
	if err != nil {
		_ = data.Abort()
		return nil, err
	}
	return &Writer{
		state:   state,
		scorer:  sc,
		logger:  codec.LoggerOrDiscard(state.Logger),
		metrics: codec.MetricsOrNoop(state.Metrics),
		meta:    meta,
		data:    data,
		written: make(map[string]struct{}),
	}, nil
}

// AddField registers a field whose vectors are buffered until Flush.
func (w *Writer) AddField(fi codec.FieldInfo) (codec.FlatFieldWriter, error) {
	return w.AddFlatField(fi)
}

// AddFlatField is AddField returning the concrete field writer.
func (w *Writer) AddFlatField(fi codec.FieldInfo) (*FieldWriter, error) {
	if w.closed {
		return nil, codec.ErrWriterClosed
	}
	if err := fi.Validate(); err != nil {
		return nil, err
	}
	for _, f := range w.fields {
		if f.fi.Name == fi.Name {
			return nil, fmt.Errorf("%w: %s", codec.ErrFieldExists, fi.Name)
		}
	}
	fw := &FieldWriter{fi: fi, docs: vectors.NewDocsWithFieldSet()}
	w.fields = append(w.fields, fw)
	return fw, nil
}

// Flush writes every buffered field.
func (w *Writer) Flush(ctx context.Context, maxDoc int) error {
	if w.closed {
		return codec.ErrWriterClosed
	}
	for _, fw := range w.fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := w.written[fw.fi.Name]; ok {
			continue
		}
		start := time.Now()
		err := w.flushField(fw, maxDoc)
		w.metrics.RecordFlush(fw.fi.Name, fw.docs.Cardinality(), time.Since(start), err)
		if err != nil {
			return err
		}
		w.logger.Debug("flushed flat vectors",
			slog.String("segment", w.state.Segment),
			slog.String("field", fw.fi.Name),
			slog.Int("vectors", fw.docs.Cardinality()),
		)
	}
	return nil
}

func (w *Writer) flushField(fw *FieldWriter, maxDoc int) error {
	if err := fw.Finish(); err != nil {
		return err
	}
	if last := fw.docs.LastDoc(); last >= maxDoc {
		return fmt.Errorf("flat: field %s has document %d, segment has %d documents", fw.fi.Name, last, maxDoc)
	}

	w.data.Align(dataAlignment)
	offset := w.data.Offset()
	var buf []byte
	switch fw.fi.Encoding {
	case distance.Float32:
		buf = make([]byte, 0, fw.fi.VectorBytes())
		for _, vec := range fw.floats {
			buf = appendFloats(buf[:0], vec)
			if _, err := w.data.Write(buf); err != nil {
				return err
			}
		}
	case distance.Byte:
		for _, vec := range fw.bytes {
			if _, err := w.data.Write(vec); err != nil {
				return err
			}
		}
	}
	return w.writeMeta(fw.fi, offset, w.data.Offset()-offset, fw.docs)
}

// writeMeta records one field. The meta file is a sequence of these
// records terminated by field number -1.
func (w *Writer) writeMeta(fi codec.FieldInfo, offset, length int64, docs *vectors.DocsWithFieldSet) error {
	docBytes, err := docs.MarshalBinary()
	if err != nil {
		return err
	}
	w.meta.WriteInt32(int32(fi.Number))
	w.meta.WriteShortString(fi.Name)
	_ = w.meta.WriteByte(byte(fi.Encoding))
	_ = w.meta.WriteByte(byte(fi.Similarity))
	w.meta.WriteUint32(uint32(fi.Dimension))
	w.meta.WriteUint64(uint64(offset))
	w.meta.WriteUint64(uint64(length))
	w.meta.WriteUint32(uint32(docs.Cardinality()))
	w.meta.WriteBytes(docBytes)
	w.written[fi.Name] = struct{}{}
	return w.meta.Err()
}

// MergeOneField appends the live vectors of fi from every merged segment.
func (w *Writer) MergeOneField(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState) error {
	start := time.Now()
	order, err := w.mergeField(ctx, fi, ms, nil)
	count := 0
	if order != nil {
		count = order.Docs.Cardinality()
	}
	w.metrics.RecordMerge(fi.Name, count, false, time.Since(start), err)
	return err
}

// MergeOneFieldToIndex merges fi like MergeOneField and also copies the
// merged vectors into a temporary blob that backs the returned supplier.
// Closing the supplier deletes the blob.
func (w *Writer) MergeOneFieldToIndex(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState) (scorer.CloseableRandomVectorScorerSupplier, error) {
	start := time.Now()
	store := w.state.Store
	tmpName := TempName(w.state.Segment, fi.Name)

	tmp, err := store.Create(ctx, tmpName)
	if err != nil {
		return nil, codec.WrapIO("create", tmpName, err)
	}
	bw := bufio.NewWriterSize(tmp, 64*1024)
	order, err := w.mergeField(ctx, fi, ms, bw)
	if err == nil {
		err = codec.WrapIO("flush", tmpName, bw.Flush())
	}
	if err != nil {
		_ = tmp.Abort()
		w.metrics.RecordMerge(fi.Name, 0, false, time.Since(start), err)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, codec.WrapIO("close", tmpName, err)
	}

	supplier, err := w.tempSupplier(ctx, fi, tmpName, order.Docs)
	w.metrics.RecordMerge(fi.Name, order.Docs.Cardinality(), false, time.Since(start), err)
	return supplier, err
}

func (w *Writer) tempSupplier(ctx context.Context, fi codec.FieldInfo, tmpName string, docs *vectors.DocsWithFieldSet) (scorer.CloseableRandomVectorScorerSupplier, error) {
	store := w.state.Store
	blob, err := store.Open(ctx, tmpName)
	if err != nil {
		_ = store.Delete(ctx, tmpName)
		return nil, codec.WrapIO("open", tmpName, err)
	}
	cleanup := func() error {
		return errors.Join(blob.Close(), store.Delete(context.Background(), tmpName))
	}
	if adv, ok := blob.(blobstore.Advisable); ok {
		_ = adv.AdviseRandom()
	}

	slab, err := NewSlab(blob, tmpName, 0, docs.Cardinality(), fi.VectorBytes())
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	var values vectors.KnnVectorValues
	if fi.Encoding == distance.Float32 {
		values = NewFloatValues(slab, fi.Dimension, docs)
	} else {
		values = NewByteValues(slab, fi.Dimension, docs)
	}
	supplier, err := w.scorer.SupplierFor(fi.Similarity, values)
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	return scorer.NewCloseableSupplier(supplier, docs.Cardinality(), cleanup), nil
}

// TempName returns the name of the temporary blob a merge of field into
// segment writes.
func TempName(segment, field string) string {
	return segment + "_" + field + ".tmp"
}

// mergeField writes the merged vectors of fi to the data file and, when
// extra is non-nil, also to extra.
func (w *Writer) mergeField(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState, extra io.Writer) (*codec.MergeOrder, error) {
	if w.closed {
		return nil, codec.ErrWriterClosed
	}
	if err := fi.Validate(); err != nil {
		return nil, err
	}
	if _, ok := w.written[fi.Name]; ok {
		return nil, fmt.Errorf("%w: %s", codec.ErrFieldExists, fi.Name)
	}

	var (
		order  *codec.MergeOrder
		record func(o codec.MergedOrd) ([]byte, error)
		err    error
	)
	switch fi.Encoding {
	case distance.Float32:
		values, maps, verr := ms.FloatValues(fi.Name)
		if verr != nil {
			return nil, verr
		}
		if err := checkInputs(fi, values); err != nil {
			return nil, err
		}
		order, err = codec.BuildMergeOrder(ctx, knn(values), maps)
		buf := make([]byte, 0, fi.VectorBytes())
		record = func(o codec.MergedOrd) ([]byte, error) {
			vec, err := values[o.Segment].VectorValue(o.Ord)
			if err != nil {
				return nil, err
			}
			buf = appendFloats(buf[:0], vec)
			return buf, nil
		}
	case distance.Byte:
		values, maps, verr := ms.ByteValues(fi.Name)
		if verr != nil {
			return nil, verr
		}
		if err := checkInputs(fi, values); err != nil {
			return nil, err
		}
		order, err = codec.BuildMergeOrder(ctx, knn(values), maps)
		record = func(o codec.MergedOrd) ([]byte, error) {
			return values[o.Segment].VectorValue(o.Ord)
		}
	}
	if err != nil {
		return nil, err
	}

	w.data.Align(dataAlignment)
	offset := w.data.Offset()
	for i, o := range order.Ords {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b, err := record(o)
		if err != nil {
			return nil, err
		}
		if _, err := w.data.Write(b); err != nil {
			return nil, err
		}
		if extra != nil {
			if _, err := extra.Write(b); err != nil {
				return nil, err
			}
		}
	}
	if err := w.writeMeta(fi, offset, w.data.Offset()-offset, order.Docs); err != nil {
		return nil, err
	}
	w.logger.Debug("merged flat vectors",
		slog.String("segment", w.state.Segment),
		slog.String("field", fi.Name),
		slog.Int("segments", len(ms.Segments)),
		slog.Int("vectors", len(order.Ords)),
	)
	return order, nil
}

func checkInputs[T vectors.KnnVectorValues](fi codec.FieldInfo, values []T) error {
	for _, v := range values {
		if err := vectors.CheckDimension(fi.Dimension, v.Dimension()); err != nil {
			return fmt.Errorf("flat: merge field %s: %w", fi.Name, err)
		}
	}
	return nil
}

func knn[T vectors.KnnVectorValues](values []T) []vectors.KnnVectorValues {
	out := make([]vectors.KnnVectorValues, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// Finish terminates the meta file and publishes both files.
func (w *Writer) Finish(ctx context.Context) error {
	if w.closed {
		return codec.ErrWriterClosed
	}
	w.closed = true
	w.meta.WriteInt32(-1)
	if err := w.data.Close(); err != nil {
		_ = w.meta.Abort()
		return err
	}
	if err := w.meta.Close(); err != nil {
		_ = w.state.Store.Delete(ctx, w.data.Name())
		return err
	}
	return nil
}

// Close discards both files unless Finish succeeded.
func (w *Writer) Close() error {
	w.closed = true
	return errors.Join(w.data.Abort(), w.meta.Abort())
}

// FieldWriter buffers the vectors of one field in memory.
type FieldWriter struct {
	fi       codec.FieldInfo
	docs     *vectors.DocsWithFieldSet
	floats   [][]float32
	bytes    [][]byte
	finished bool
	values   vectors.KnnVectorValues
}

var _ codec.FlatFieldWriter = (*FieldWriter)(nil)

func (fw *FieldWriter) Field() codec.FieldInfo { return fw.fi }

// AddFloat copies vec.
func (fw *FieldWriter) AddFloat(doc int, vec []float32) error {
	if err := fw.check(distance.Float32, len(vec)); err != nil {
		return err
	}
	if err := fw.docs.Add(doc); err != nil {
		return err
	}
	fw.floats = append(fw.floats, slices.Clone(vec))
	return nil
}

// AddBytes copies vec.
func (fw *FieldWriter) AddBytes(doc int, vec []byte) error {
	if err := fw.check(distance.Byte, len(vec)); err != nil {
		return err
	}
	if err := fw.docs.Add(doc); err != nil {
		return err
	}
	fw.bytes = append(fw.bytes, slices.Clone(vec))
	return nil
}

func (fw *FieldWriter) check(enc distance.Encoding, dim int) error {
	if fw.finished {
		return fmt.Errorf("%w: %s", codec.ErrFieldFinished, fw.fi.Name)
	}
	if fw.fi.Encoding != enc {
		return fmt.Errorf("%w: field %s stores %s vectors", vectors.ErrUnsupportedEncoding, fw.fi.Name, fw.fi.Encoding)
	}
	return vectors.CheckDimension(fw.fi.Dimension, dim)
}

func (fw *FieldWriter) Finish() error {
	fw.finished = true
	return nil
}

// Values finishes the field and returns its buffered vectors.
func (fw *FieldWriter) Values() (vectors.KnnVectorValues, error) {
	if err := fw.Finish(); err != nil {
		return nil, err
	}
	if fw.values != nil {
		return fw.values, nil
	}
	var err error
	if fw.fi.Encoding == distance.Float32 {
		fw.values, err = vectors.NewFloatSlice(fw.fi.Dimension, fw.floats, fw.docs)
	} else {
		fw.values, err = vectors.NewByteSlice(fw.fi.Dimension, fw.bytes, fw.docs)
	}
	return fw.values, err
}

// FloatVectors returns the buffered float vectors in ordinal order.
func (fw *FieldWriter) FloatVectors() [][]float32 { return fw.floats }

func (fw *FieldWriter) Docs() *vectors.DocsWithFieldSet { return fw.docs }

// Len returns the number of buffered vectors.
func (fw *FieldWriter) Len() int { return fw.docs.Cardinality() }

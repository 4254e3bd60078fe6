package sq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/quantization"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/vectors"
)

// Writer writes raw vectors through a flat.Writer and their quantized
// codes to the .veq and .vemq files.
type Writer struct {
	format  Format
	state   *codec.SegmentWriteState
	logger  *slog.Logger
	metrics codec.MetricsCollector

	raw  *flat.Writer
	meta *codec.Output
	data *codec.Output

	fields []*FieldWriter
	closed bool
}

var _ codec.FlatVectorsWriter = (*Writer)(nil)

// NewWriter creates the raw and quantized files of the segment.
func NewWriter(ctx context.Context, state *codec.SegmentWriteState, f Format) (*Writer, error) {
	bits := f.bits()
	if bits < quantization.MinBits || bits > quantization.MaxBits {
		return nil, quantization.ErrInvalidBits
	}
	if ci := f.ConfidenceInterval; ci != 0 && (ci < 0.9 || ci > 1) {
		return nil, quantization.ErrInvalidConfidenceInterval
	}

	// The raw writer reports nothing; this writer records per field.
	rawState := *state
	rawState.Metrics = nil
	raw, err := flat.NewWriter(ctx, &rawState, nil)
	if err != nil {
		return nil, err
	}
	data, err := codec.CreateOutput(ctx, state.Store, codec.FileName(state.Segment, DataExtension), dataCodec, versionCurrent, state.Segment, state.Resources)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	meta, err := codec.CreateOutput(ctx, state.Store, codec.FileName(state.Segment, MetaExtension), metaCodec, versionCurrent, state.Segment, state.Resources)
	if err != nil {
		_ = raw.Close()
		_ = data.Abort()
		return nil, err
	}
	return &Writer{
		format:  f,
		state:   state,
		logger:  codec.LoggerOrDiscard(state.Logger),
		metrics: codec.MetricsOrNoop(state.Metrics),
		raw:     raw,
		meta:    meta,
		data:    data,
	}, nil
}

func checkQuantizable(fi codec.FieldInfo) error {
	if fi.Encoding != distance.Float32 {
		return fmt.Errorf("%w: scalar quantization needs float32 vectors, field %s stores %s", vectors.ErrUnsupportedEncoding, fi.Name, fi.Encoding)
	}
	return nil
}

func (w *Writer) AddField(fi codec.FieldInfo) (codec.FlatFieldWriter, error) {
	if err := checkQuantizable(fi); err != nil {
		return nil, err
	}
	raw, err := w.raw.AddFlatField(fi)
	if err != nil {
		return nil, err
	}
	fw := &FieldWriter{FieldWriter: raw, format: w.format}
	w.fields = append(w.fields, fw)
	return fw, nil
}

// Flush writes the raw vectors, then the codes of every field.
func (w *Writer) Flush(ctx context.Context, maxDoc int) error {
	if w.closed {
		return codec.ErrWriterClosed
	}
	if err := w.raw.Flush(ctx, maxDoc); err != nil {
		return err
	}
	for _, fw := range w.fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := w.flushField(fw)
		w.metrics.RecordFlush(fw.Field().Name, fw.Len(), time.Since(start), err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flushField(fw *FieldWriter) error {
	q, err := fw.QuantizedValues()
	if err != nil {
		return err
	}
	fi := fw.Field()
	offset := w.data.Offset()
	buf := make([]byte, 0, recordSize(fi.Dimension))
	for ord := range q.Size() {
		codes, _ := q.VectorValue(ord)
		corr, _ := q.ScoreCorrectionConstant(ord)
		buf = appendRecord(buf[:0], codes, corr)
		if _, err := w.data.Write(buf); err != nil {
			return err
		}
	}
	w.logger.Debug("flushed quantized vectors",
		slog.String("segment", w.state.Segment),
		slog.String("field", fi.Name),
		slog.Int("vectors", q.Size()),
		slog.String("quantizer", q.Quantizer().String()),
	)
	return w.writeMeta(fi, offset, w.data.Offset()-offset, q.Size(), q.Quantizer())
}

func (w *Writer) writeMeta(fi codec.FieldInfo, offset, length int64, count int, q *quantization.ScalarQuantizer) error {
	qb, err := q.MarshalBinary()
	if err != nil {
		return err
	}
	w.meta.WriteInt32(int32(fi.Number))
	w.meta.WriteShortString(fi.Name)
	w.meta.WriteUint32(uint32(fi.Dimension))
	w.meta.WriteUint64(uint64(offset))
	w.meta.WriteUint64(uint64(length))
	w.meta.WriteUint32(uint32(count))
	w.meta.WriteBytes(qb)
	return w.meta.Err()
}

func (w *Writer) MergeOneField(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState) error {
	if err := checkQuantizable(fi); err != nil {
		return err
	}
	if err := w.raw.MergeOneField(ctx, fi, ms); err != nil {
		return err
	}
	_, _, err := w.mergeQuantized(ctx, fi, ms, nil)
	return err
}

// MergeOneFieldToIndex merges fi and returns a quantized supplier over the
// merged codes, backed by a temporary blob.
func (w *Writer) MergeOneFieldToIndex(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState) (scorer.CloseableRandomVectorScorerSupplier, error) {
	if err := checkQuantizable(fi); err != nil {
		return nil, err
	}
	if err := w.raw.MergeOneField(ctx, fi, ms); err != nil {
		return nil, err
	}

	store := w.state.Store
	tmpName := flat.TempName(w.state.Segment, fi.Name)
	tmp, err := store.Create(ctx, tmpName)
	if err != nil {
		return nil, codec.WrapIO("create", tmpName, err)
	}
	bw := bufio.NewWriterSize(tmp, 64*1024)
	order, q, err := w.mergeQuantized(ctx, fi, ms, bw)
	if err == nil {
		err = codec.WrapIO("flush", tmpName, bw.Flush())
	}
	if err != nil {
		_ = tmp.Abort()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, codec.WrapIO("close", tmpName, err)
	}

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
	slab, err := flat.NewSlab(blob, tmpName, 0, order.Docs.Cardinality(), recordSize(fi.Dimension))
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	supplier, err := scorer.NewScalarQuantized().SupplierFor(fi.Similarity, NewQuantizedValues(slab, fi.Dimension, q, order.Docs))
	if err != nil {
		_ = cleanup()
		return nil, err
	}
	return scorer.NewCloseableSupplier(supplier, order.Docs.Cardinality(), cleanup), nil
}

// quantizedReader is a reader that also serves the codes it was written
// with.
type quantizedReader interface {
	QuantizedVectorValues(field string) (vectors.QuantizedByteVectorValues, error)
}

// quantizedInput is a merge input: its raw vectors and, when the segment
// was written by this format, its codes.
type quantizedInput struct {
	floats    vectors.FloatVectorValues
	quantized vectors.QuantizedByteVectorValues
}

func (w *Writer) mergeInputs(fi codec.FieldInfo, ms *codec.MergeState) ([]quantizedInput, []codec.DocMap, error) {
	var (
		inputs []quantizedInput
		maps   []codec.DocMap
	)
	for i, seg := range ms.Segments {
		reader := ms.MergeReader(i)
		floats, err := reader.FloatVectorValues(fi.Name)
		if err != nil {
			if codec.IsFieldNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		if err := vectors.CheckDimension(fi.Dimension, floats.Dimension()); err != nil {
			return nil, nil, fmt.Errorf("sq: merge field %s: %w", fi.Name, err)
		}
		in := quantizedInput{floats: floats}
		if qr, ok := reader.(quantizedReader); ok {
			if in.quantized, err = qr.QuantizedVectorValues(fi.Name); err != nil {
				return nil, nil, err
			}
		}
		inputs = append(inputs, in)
		maps = append(maps, seg.DocMap)
	}
	return inputs, maps, nil
}

// mergeQuantized writes the merged codes of fi, reusing segment codes when
// the merged quantiles allow it.
func (w *Writer) mergeQuantized(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState, extra io.Writer) (*codec.MergeOrder, *quantization.ScalarQuantizer, error) {
	start := time.Now()
	order, q, requantized, err := w.doMergeQuantized(ctx, fi, ms, extra)
	count := 0
	if order != nil {
		count = order.Docs.Cardinality()
	}
	w.metrics.RecordMerge(fi.Name, count, requantized, time.Since(start), err)
	if err == nil {
		w.logger.Debug("merged quantized vectors",
			slog.String("segment", w.state.Segment),
			slog.String("field", fi.Name),
			slog.Int("vectors", count),
			slog.Bool("requantized", requantized),
		)
	}
	return order, q, err
}

func (w *Writer) doMergeQuantized(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState, extra io.Writer) (*codec.MergeOrder, *quantization.ScalarQuantizer, bool, error) {
	inputs, maps, err := w.mergeInputs(fi, ms)
	if err != nil {
		return nil, nil, false, err
	}
	knn := make([]vectors.KnnVectorValues, len(inputs))
	floats := make([]vectors.FloatVectorValues, len(inputs))
	for i, in := range inputs {
		knn[i] = in.floats
		floats[i] = in.floats
	}
	order, err := codec.BuildMergeOrder(ctx, knn, maps)
	if err != nil {
		return nil, nil, false, err
	}

	bits := w.format.bits()
	quantizers := make([]*quantization.ScalarQuantizer, len(inputs))
	counts := make([]int, len(inputs))
	for i, in := range inputs {
		if in.quantized != nil {
			quantizers[i] = in.quantized.Quantizer()
		}
		counts[i] = in.floats.Size()
	}
	q, err := quantization.MergeQuantiles(quantizers, counts, bits)
	if err != nil {
		return nil, nil, false, err
	}
	requantize := quantization.ShouldRequantize(q, quantizers)

	merged := codec.NewMergedFloatValues(fi.Dimension, floats, order)
	if requantize {
		q, err = quantization.FromVectors(sourceFor(fi.Similarity, merged), w.format.confidenceInterval(fi.Dimension), merged.Size(), bits)
		if err != nil {
			return nil, nil, true, err
		}
	}

	offset := w.data.Offset()
	codes := make([]byte, fi.Dimension)
	buf := make([]byte, 0, recordSize(fi.Dimension))
	for ord, o := range order.Ords {
		if ord%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, requantize, err
			}
		}
		var corr float32
		if requantize {
			vec, err := merged.VectorValue(ord)
			if err != nil {
				return nil, nil, requantize, err
			}
			corr = q.QuantizeQuery(vec, codes, fi.Similarity)
		} else {
			src := inputs[o.Segment].quantized
			c, err := src.VectorValue(o.Ord)
			if err != nil {
				return nil, nil, requantize, err
			}
			copy(codes, c)
			corr = q.RecalculateCorrectiveOffset(codes, src.Quantizer(), fi.Similarity)
		}
		buf = appendRecord(buf[:0], codes, corr)
		if _, err := w.data.Write(buf); err != nil {
			return nil, nil, requantize, err
		}
		if extra != nil {
			if _, err := extra.Write(buf); err != nil {
				return nil, nil, requantize, err
			}
		}
	}
	if err := w.writeMeta(fi, offset, w.data.Offset()-offset, len(order.Ords), q); err != nil {
		return nil, nil, requantize, err
	}
	return order, q, requantize, nil
}

// Finish publishes the raw files first, then the quantized files.
func (w *Writer) Finish(ctx context.Context) error {
	if w.closed {
		return codec.ErrWriterClosed
	}
	w.closed = true
	if err := w.raw.Finish(ctx); err != nil {
		_ = w.data.Abort()
		_ = w.meta.Abort()
		return err
	}
	w.meta.WriteInt32(-1)
	if err := w.data.Close(); err != nil {
		_ = w.meta.Abort()
		w.deleteRaw(ctx)
		return err
	}
	if err := w.meta.Close(); err != nil {
		_ = w.state.Store.Delete(ctx, w.data.Name())
		w.deleteRaw(ctx)
		return err
	}
	return nil
}

func (w *Writer) deleteRaw(ctx context.Context) {
	for _, ext := range []string{flat.DataExtension, flat.MetaExtension} {
		_ = w.state.Store.Delete(ctx, codec.FileName(w.state.Segment, ext))
	}
}

// Close discards every file unless Finish succeeded.
func (w *Writer) Close() error {
	w.closed = true
	return errors.Join(w.raw.Close(), w.data.Abort(), w.meta.Abort())
}

// FieldWriter buffers raw vectors and quantizes them when the field is
// flushed or its values are requested.
type FieldWriter struct {
	*flat.FieldWriter
	format    Format
	quantized *vectors.QuantizedSlice
}

var _ codec.FlatFieldWriter = (*FieldWriter)(nil)

func (fw *FieldWriter) AddBytes(int, []byte) error {
	return fmt.Errorf("%w: field %s is quantized from float32 vectors", vectors.ErrUnsupportedEncoding, fw.Field().Name)
}

// Values returns the quantized codes so graphs are built with the scores
// searches will see.
func (fw *FieldWriter) Values() (vectors.KnnVectorValues, error) {
	return fw.QuantizedValues()
}

// QuantizedValues finishes the field, learns its quantizer and quantizes
// every buffered vector. The result is cached.
func (fw *FieldWriter) QuantizedValues() (*vectors.QuantizedSlice, error) {
	if fw.quantized != nil {
		return fw.quantized, nil
	}
	raw, err := fw.FieldWriter.Values()
	if err != nil {
		return nil, err
	}
	fi := fw.Field()
	floats := raw.(vectors.FloatVectorValues)
	q, err := quantization.FromVectors(sourceFor(fi.Similarity, floats), fw.format.confidenceInterval(fi.Dimension), floats.Size(), fw.format.bits())
	if err != nil {
		return nil, err
	}
	fw.quantized, err = vectors.NewQuantizedSlice(fi.Dimension, fw.FloatVectors(), q, fi.Similarity, fw.Docs())
	return fw.quantized, err
}

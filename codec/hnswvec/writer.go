package hnswvec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/hnsw"
	"github.com/hupe1980/veccodec/scorer"
	"github.com/hupe1980/veccodec/vectors"
)

// Writer writes the flat files of a segment through the configured flat
// format and a graph per field into the .vex and .vem files.
type Writer struct {
	format  Format
	state   *codec.SegmentWriteState
	logger  *slog.Logger
	metrics codec.MetricsCollector

	flat  codec.FlatVectorsWriter
	meta  *codec.Output
	index *codec.Output

	fields []codec.FlatFieldWriter
	closed bool
}

// NewWriter creates the graph files and the flat writer of a segment.
func NewWriter(ctx context.Context, state *codec.SegmentWriteState, f Format) (*Writer, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	fw, err := f.flatFormat().NewWriter(ctx, state)
	if err != nil {
		return nil, err
	}
	index, err := codec.CreateOutput(ctx, state.Store, codec.FileName(state.Segment, IndexExtension), indexCodec, versionCurrent, state.Segment, state.Resources)
	if err != nil {
		_ = fw.Close()
		return nil, err
	}
	meta, err := codec.CreateOutput(ctx, state.Store, codec.FileName(state.Segment, MetaExtension), metaCodec, versionCurrent, state.Segment, state.Resources)
	if err != nil {
		_ = fw.Close()
		_ = index.Abort()
		return nil, err
	}
	return &Writer{
		format:  f,
		state:   state,
		logger:  codec.LoggerOrDiscard(state.Logger),
		metrics: codec.MetricsOrNoop(state.Metrics),
		flat:    fw,
		meta:    meta,
		index:   index,
	}, nil
}

// AddField registers fi. Vectors are added through the returned writer.
func (w *Writer) AddField(fi codec.FieldInfo) (codec.FlatFieldWriter, error) {
	if w.closed {
		return nil, codec.ErrWriterClosed
	}
	fw, err := w.flat.AddField(fi)
	if err != nil {
		return nil, err
	}
	w.fields = append(w.fields, fw)
	return fw, nil
}

// Flush writes the flat files, then builds and writes a graph per field.
func (w *Writer) Flush(ctx context.Context, maxDoc int) error {
	if w.closed {
		return codec.ErrWriterClosed
	}
	if err := w.flat.Flush(ctx, maxDoc); err != nil {
		return err
	}
	for _, fw := range w.fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.flushField(ctx, fw); err != nil {
			return fmt.Errorf("hnswvec: flush field %s: %w", fw.Field().Name, err)
		}
	}
	return nil
}

func (w *Writer) flushField(ctx context.Context, fw codec.FlatFieldWriter) error {
	fi := fw.Field()
	values, err := fw.Values()
	if err != nil {
		return err
	}
	if values.Size() == 0 {
		return nil
	}
	supplier, err := w.format.flatFormat().Scorer().SupplierFor(fi.Similarity, values)
	if err != nil {
		return err
	}
	start := time.Now()
	b, err := hnsw.NewBuilder(supplier, w.format.builderOptions(w.logger))
	if err != nil {
		return err
	}
	g, err := b.Build(ctx, values.Size())
	if err != nil {
		return err
	}
	w.metrics.RecordGraphBuild(fi.Name, g.Size(), time.Since(start))
	w.logger.Debug("built graph",
		slog.String("segment", w.state.Segment),
		slog.String("field", fi.Name),
		slog.Int("nodes", g.Size()),
		slog.Int("levels", g.NumLevels()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return w.writeGraph(fi, g)
}

// writeGraph appends g to the index and records it in the meta file.
func (w *Writer) writeGraph(fi codec.FieldInfo, g hnsw.Graph) error {
	offset := w.index.Offset()
	if _, err := hnsw.WriteGraph(w.index, g, w.format.Compression); err != nil {
		return err
	}
	w.meta.WriteInt32(int32(fi.Number))
	w.meta.WriteShortString(fi.Name)
	_ = w.meta.WriteByte(byte(w.format.Compression))
	w.meta.WriteUint32(uint32(g.Size()))
	w.meta.WriteUint64(uint64(offset))
	w.meta.WriteUint64(uint64(w.index.Offset() - offset))
	return w.meta.Err()
}

// MergeOneField merges the vectors of fi and builds their graph. The
// scorer supplier over the merged vectors is released before returning,
// also on failure.
func (w *Writer) MergeOneField(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState) (err error) {
	if w.closed {
		return codec.ErrWriterClosed
	}
	supplier, err := w.flat.MergeOneFieldToIndex(ctx, fi, ms)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, supplier.Close())
	}()
	if err := w.mergeGraph(ctx, fi, ms, supplier); err != nil {
		return fmt.Errorf("hnswvec: merge field %s: %w", fi.Name, err)
	}
	return nil
}

func (w *Writer) mergeGraph(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState, supplier scorer.CloseableRandomVectorScorerSupplier) error {
	size := supplier.TotalVectorCount()
	if size == 0 {
		return nil
	}
	rc := w.state.Resources
	if err := rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer rc.ReleaseBackground()
	mem := graphBytes(size, w.format.m())
	if err := rc.AcquireMemory(mem); err != nil {
		return err
	}
	defer rc.ReleaseMemory(mem)

	start := time.Now()
	merger := hnsw.NewIncrementalMerger(supplier, w.mergeWorkers(), w.format.builderOptions(w.logger))
	if err := offerGraphs(ctx, fi, ms, merger); err != nil {
		return err
	}
	g, err := merger.Build(ctx, size)
	if err != nil {
		return err
	}
	w.metrics.RecordGraphBuild(fi.Name, g.Size(), time.Since(start))
	w.logger.Debug("merged graph",
		slog.String("segment", w.state.Segment),
		slog.String("field", fi.Name),
		slog.Int("nodes", g.Size()),
		slog.Bool("initialized", merger.Initialized()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return w.writeGraph(fi, g)
}

func (w *Writer) mergeWorkers() int {
	n := max(w.format.NumMergeWorkers, 1)
	if limit := w.state.Resources.MaxBackgroundWorkers(); limit > 0 {
		n = min(n, limit)
	}
	return n
}

// graphBytes estimates the heap needed for a graph of size nodes, counting
// level 0 only.
func graphBytes(size, m int) int64 {
	return int64(size) * int64(2*m+1) * 8
}

// offerGraphs hands the graphs of inputs without deletions to merger,
// renumbered into the merged ordinal space.
func offerGraphs(ctx context.Context, fi codec.FieldInfo, ms *codec.MergeState, merger *hnsw.IncrementalMerger) error {
	var (
		values []vectors.KnnVectorValues
		maps   []codec.DocMap
		graphs []hnsw.Graph
		found  bool
	)
	for _, seg := range ms.Segments {
		v, err := segmentValues(seg.Reader, fi)
		if err != nil {
			if codec.IsFieldNotFound(err) {
				continue
			}
			return err
		}
		var g hnsw.Graph
		if gp, ok := seg.Reader.(hnsw.GraphProvider); ok && !seg.HasDeletions() {
			if g, err = gp.Graph(fi.Name); err != nil {
				return err
			}
		}
		values = append(values, v)
		maps = append(maps, seg.DocMap)
		graphs = append(graphs, g)
		found = found || g != nil
	}
	if !found {
		return nil
	}
	order, err := codec.BuildMergeOrder(ctx, values, maps)
	if err != nil {
		return err
	}
	for i, g := range graphs {
		if g != nil {
			merger.AddGraph(g, order.OldToNew(i, values[i].Size()))
		}
	}
	return nil
}

func segmentValues(r codec.FlatVectorsReader, fi codec.FieldInfo) (vectors.KnnVectorValues, error) {
	if fi.Encoding == distance.Byte {
		return r.ByteVectorValues(fi.Name)
	}
	return r.FloatVectorValues(fi.Name)
}

// Finish publishes the graph files, then the flat files. If the flat files
// cannot be published the graph files are deleted again.
func (w *Writer) Finish(ctx context.Context) error {
	if w.closed {
		return codec.ErrWriterClosed
	}
	w.closed = true
	w.meta.WriteInt32(-1)
	if err := w.index.Close(); err != nil {
		return errors.Join(err, w.meta.Abort(), w.flat.Close())
	}
	if err := w.meta.Close(); err != nil {
		w.deleteGraphFiles(ctx)
		return errors.Join(err, w.flat.Close())
	}
	if err := w.flat.Finish(ctx); err != nil {
		w.deleteGraphFiles(ctx)
		return err
	}
	return nil
}

func (w *Writer) deleteGraphFiles(ctx context.Context) {
	for _, name := range []string{w.index.Name(), w.meta.Name()} {
		_ = w.state.Store.Delete(ctx, name)
	}
}

// Close discards every file unless Finish succeeded.
func (w *Writer) Close() error {
	w.closed = true
	return errors.Join(w.flat.Close(), w.index.Abort(), w.meta.Abort())
}

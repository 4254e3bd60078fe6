package veccodec

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/distance"
)

// Document carries the vectors of one document by field name. A document
// may leave any field out.
type Document struct {
	Floats map[string][]float32
	Bytes  map[string][]byte
}

// AddSegment writes docs as a new segment and commits it. The i-th
// document gets id i within the segment.
func (x *Index) AddSegment(ctx context.Context, docs []Document) (info SegmentInfo, err error) {
	if len(docs) == 0 {
		return SegmentInfo{}, ErrNoDocuments
	}
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	if err := x.checkOpen(); err != nil {
		return SegmentInfo{}, err
	}

	name, next := x.newSegmentName()
	start := time.Now()
	defer func() {
		x.logger.LogFlush(ctx, name, len(docs), time.Since(start), err)
	}()

	if err := x.writeSegment(ctx, name, docs); err != nil {
		return SegmentInfo{}, err
	}
	r, err := x.openReader(ctx, name)
	if err != nil {
		x.deleteSegmentFiles(ctx, name)
		return SegmentInfo{}, err
	}

	seg := &segment{name: name, maxDoc: len(docs), reader: r}
	x.mu.RLock()
	segs := append(append([]*segment(nil), x.state.segments...), seg)
	x.mu.RUnlock()

	if err := x.commit(ctx, segs, next); err != nil {
		x.abandon(r)
		return SegmentInfo{}, err
	}
	r.release()
	return seg.info(), nil
}

func (x *Index) writeSegment(ctx context.Context, name string, docs []Document) error {
	w, err := x.format.NewWriter(ctx, &codec.SegmentWriteState{
		Store:     x.store,
		Segment:   name,
		Logger:    x.logger.Logger,
		Metrics:   x.metrics,
		Resources: x.resources,
	})
	if err != nil {
		return err
	}
	defer w.Close()

	writers := make(map[string]codec.FlatFieldWriter, len(x.fields))
	for _, fi := range x.fields {
		fw, err := w.AddField(fi)
		if err != nil {
			return err
		}
		writers[fi.Name] = fw
	}

	for doc, d := range docs {
		for field, vec := range d.Floats {
			fw, err := fieldWriter(writers, field, distance.Float32, len(vec))
			if err != nil {
				return fmt.Errorf("veccodec: document %d: %w", doc, err)
			}
			if err := fw.AddFloat(doc, vec); err != nil {
				return err
			}
		}
		for field, vec := range d.Bytes {
			fw, err := fieldWriter(writers, field, distance.Byte, len(vec))
			if err != nil {
				return fmt.Errorf("veccodec: document %d: %w", doc, err)
			}
			if err := fw.AddBytes(doc, vec); err != nil {
				return err
			}
		}
	}

	if err := w.Flush(ctx, len(docs)); err != nil {
		return err
	}
	return w.Finish(ctx)
}

func fieldWriter(writers map[string]codec.FlatFieldWriter, field string, enc distance.Encoding, dim int) (codec.FlatFieldWriter, error) {
	fw, ok := writers[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	fi := fw.Field()
	if fi.Encoding != enc {
		return nil, fmt.Errorf("veccodec: field %s stores %s vectors, got %s", field, fi.Encoding, enc)
	}
	if fi.Dimension != dim {
		return nil, &ErrDimensionMismatch{Field: field, Expected: fi.Dimension, Actual: dim}
	}
	return fw, nil
}

// Delete marks docs of segment deleted and commits. It returns the number
// of documents that were not deleted before.
func (x *Index) Delete(ctx context.Context, segmentName string, docs ...int) (n int, err error) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	defer func() {
		x.metrics.RecordDelete(n, err)
	}()
	if err := x.checkOpen(); err != nil {
		return 0, err
	}

	x.mu.RLock()
	segs := append([]*segment(nil), x.state.segments...)
	nextSegment := x.state.nextSegment
	i, seg := x.state.find(segmentName)
	x.mu.RUnlock()
	if seg == nil {
		return 0, fmt.Errorf("%w: %s", ErrSegmentNotFound, segmentName)
	}

	deleted := roaring.New()
	if seg.deleted != nil {
		deleted = seg.deleted.Clone()
	}
	for _, doc := range docs {
		if doc < 0 || doc >= seg.maxDoc {
			return 0, &ErrDocOutOfRange{Segment: segmentName, Doc: doc, MaxDoc: seg.maxDoc}
		}
		if deleted.CheckedAdd(uint32(doc)) {
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}

	segs[i] = &segment{name: seg.name, maxDoc: seg.maxDoc, deleted: deleted, reader: seg.reader}
	if err := x.commit(ctx, segs, nextSegment); err != nil {
		return 0, err
	}
	return n, nil
}

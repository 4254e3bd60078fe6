package veccodec

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/veccodec/codec"
)

// Merge merges every committed segment into one new segment and commits
// it. Deleted documents are dropped and live documents are renumbered in
// segment order. Graphs of segments without deletions seed the merged
// graph.
func (x *Index) Merge(ctx context.Context) (info SegmentInfo, err error) {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	if err := x.checkOpen(); err != nil {
		return SegmentInfo{}, err
	}
	x.mu.RLock()
	inputs := append([]*segment(nil), x.state.segments...)
	x.mu.RUnlock()

	if len(inputs) == 0 || (len(inputs) == 1 && inputs[0].deleted == nil) {
		return SegmentInfo{}, ErrNothingToMerge
	}

	name, next := x.newSegmentName()
	merged := make([]string, len(inputs))
	for i, s := range inputs {
		merged[i] = s.name
	}
	start := time.Now()
	maxDoc := 0
	defer func() {
		x.logger.LogMerge(ctx, name, merged, maxDoc, time.Since(start), err)
	}()

	ms := &codec.MergeState{}
	for _, s := range inputs {
		ms.Segments = append(ms.Segments, codec.MergeSegment{
			Reader:  s.reader.Reader,
			DocMap:  codec.NewDocMap(maxDoc, s.deleted),
			Deleted: s.deleted,
		})
		maxDoc += s.info().LiveDocs()
	}

	err = x.mergeSegments(ctx, name, ms)
	if cerr := ms.Close(); cerr != nil {
		x.logger.Warn("release merge readers failed", "segment", name, "error", cerr)
	}
	if err != nil {
		return SegmentInfo{}, err
	}
	r, err := x.openReader(ctx, name)
	if err != nil {
		x.deleteSegmentFiles(ctx, name)
		return SegmentInfo{}, err
	}

	obsolete := make([]*segmentReader, len(inputs))
	for i, s := range inputs {
		obsolete[i] = s.reader
	}
	seg := &segment{name: name, maxDoc: maxDoc, reader: r}
	if err := x.commit(ctx, []*segment{seg}, next, obsolete...); err != nil {
		x.abandon(r)
		return SegmentInfo{}, err
	}
	r.release()
	return seg.info(), nil
}

func (x *Index) mergeSegments(ctx context.Context, name string, ms *codec.MergeState) error {
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

	for _, fi := range x.fields {
		if !anyHasField(ms, fi.Name) {
			continue
		}
		if err := w.MergeOneField(ctx, fi, ms); err != nil {
			return fmt.Errorf("veccodec: merge field %s: %w", fi.Name, err)
		}
	}
	return w.Finish(ctx)
}

func anyHasField(ms *codec.MergeState, field string) bool {
	for _, seg := range ms.Segments {
		if _, err := seg.Reader.FieldInfo(field); err == nil {
			return true
		}
	}
	return false
}

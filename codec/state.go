package codec

import (
	"errors"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/internal/resource"
	"github.com/hupe1980/veccodec/vectors"
)

// SegmentWriteState carries what a format writer needs to produce one
// segment.
type SegmentWriteState struct {
	Store   blobstore.Store
	Segment string
	Logger  *slog.Logger
	Metrics MetricsCollector
	// Resources throttles merge I/O and background workers. May be nil.
	Resources *resource.Controller
}

// SegmentReadState carries what a format reader needs to open one segment.
type SegmentReadState struct {
	Store   blobstore.Store
	Segment string
	Logger  *slog.Logger
	Metrics MetricsCollector
}

// FileName returns the blob name of a segment file.
func FileName(segment, ext string) string {
	return segment + "." + ext
}

// DocMap maps a document of a merged segment to its document in the new
// segment, or -1 when the document was deleted.
type DocMap func(doc int) int

// NewDocMap returns the DocMap that shifts live documents by base and
// compacts away the deleted ones. deleted may be nil.
func NewDocMap(base int, deleted *roaring.Bitmap) DocMap {
	if deleted == nil || deleted.IsEmpty() {
		return func(doc int) int { return base + doc }
	}
	return func(doc int) int {
		if deleted.Contains(uint32(doc)) {
			return -1
		}
		return base + doc - int(deleted.Rank(uint32(doc)))
	}
}

// MergeSegment is one input of a merge.
type MergeSegment struct {
	Reader FlatVectorsReader
	DocMap DocMap
	// Deleted lists deleted documents. Nil means all documents are live.
	Deleted *roaring.Bitmap
}

// HasDeletions reports whether any document of the segment was deleted.
func (m MergeSegment) HasDeletions() bool {
	return m.Deleted != nil && !m.Deleted.IsEmpty()
}

// MergeState describes a merge of several segments into a new one.
type MergeState struct {
	Segments []MergeSegment

	instances []FlatVectorsReader
}

// MergeReader returns the merge instance of segment i, creating it on
// first use. Close releases it.
func (ms *MergeState) MergeReader(i int) FlatVectorsReader {
	if len(ms.instances) < len(ms.Segments) {
		ms.instances = append(ms.instances, make([]FlatVectorsReader, len(ms.Segments)-len(ms.instances))...)
	}
	if ms.instances[i] == nil {
		ms.instances[i] = ms.Segments[i].Reader.MergeInstance()
	}
	return ms.instances[i]
}

// Close releases the merge instances. The segment readers stay open.
func (ms *MergeState) Close() error {
	var errs []error
	for i, r := range ms.instances {
		if r != nil {
			errs = append(errs, r.Close())
			ms.instances[i] = nil
		}
	}
	return errors.Join(errs...)
}

// FloatValues collects the float values of field from every segment that
// has it, switching each reader to its merge instance.
func (ms *MergeState) FloatValues(field string) ([]vectors.FloatVectorValues, []DocMap, error) {
	var (
		values []vectors.FloatVectorValues
		maps   []DocMap
	)
	for i, seg := range ms.Segments {
		v, err := ms.MergeReader(i).FloatVectorValues(field)
		if err != nil {
			if IsFieldNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		values = append(values, v)
		maps = append(maps, seg.DocMap)
	}
	return values, maps, nil
}

// ByteValues is the byte counterpart of FloatValues.
func (ms *MergeState) ByteValues(field string) ([]vectors.ByteVectorValues, []DocMap, error) {
	var (
		values []vectors.ByteVectorValues
		maps   []DocMap
	)
	for i, seg := range ms.Segments {
		v, err := ms.MergeReader(i).ByteVectorValues(field)
		if err != nil {
			if IsFieldNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		values = append(values, v)
		maps = append(maps, seg.DocMap)
	}
	return values, maps, nil
}

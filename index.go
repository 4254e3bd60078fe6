package veccodec

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/hnswvec"
	"github.com/hupe1980/veccodec/internal/cache"
	"github.com/hupe1980/veccodec/internal/resource"
)

// SegmentInfo describes a committed segment.
type SegmentInfo struct {
	Name string
	// MaxDoc bounds the document ids of the segment.
	MaxDoc int
	// DeletedDocs counts documents marked deleted.
	DeletedDocs int
}

// LiveDocs returns the number of documents that are not deleted.
func (s SegmentInfo) LiveDocs() int { return s.MaxDoc - s.DeletedDocs }

// segmentReader is shared by every commit state that references the
// segment. The last release closes it, and deletes the files of a segment
// that was merged away.
type segmentReader struct {
	*hnswvec.Reader
	name     string
	refs     atomic.Int32
	obsolete atomic.Bool
	index    *Index
}

func (r *segmentReader) acquire() { r.refs.Add(1) }

func (r *segmentReader) release() {
	if r.refs.Add(-1) != 0 {
		return
	}
	if err := r.Reader.Close(); err != nil {
		r.index.logger.Warn("close segment failed", "segment", r.name, "error", err)
	}
	if r.obsolete.Load() {
		r.index.deleteSegmentFiles(context.Background(), r.name)
	}
}

type segment struct {
	name    string
	maxDoc  int
	deleted *roaring.Bitmap
	reader  *segmentReader
}

func (s *segment) info() SegmentInfo {
	info := SegmentInfo{Name: s.name, MaxDoc: s.maxDoc}
	if s.deleted != nil {
		info.DeletedDocs = int(s.deleted.GetCardinality())
	}
	return info
}

// live returns the documents that are not deleted, or nil when none is.
func (s *segment) live() *roaring.Bitmap {
	if s.deleted == nil || s.deleted.IsEmpty() {
		return nil
	}
	return roaring.Flip(s.deleted, 0, uint64(s.maxDoc))
}

// commitState is an immutable view of one commit point.
type commitState struct {
	gen         uint64
	segments    []*segment
	nextSegment int64
}

func (st *commitState) acquire() {
	for _, s := range st.segments {
		s.reader.acquire()
	}
}

func (st *commitState) release() {
	for _, s := range st.segments {
		s.reader.release()
	}
}

func (st *commitState) find(name string) (int, *segment) {
	for i, s := range st.segments {
		if s.name == name {
			return i, s
		}
	}
	return -1, nil
}

// Index is a set of immutable vector segments in a blobstore.Store,
// published through commit points. Each segment carries flat vectors and
// an HNSW graph per field.
//
// Index is safe for concurrent use. Writes (AddSegment, Delete, Merge) are
// serialized; searches run against the commit point current at their
// start.
type Index struct {
	store     blobstore.Store
	committer blobstore.Committer
	format    hnswvec.Format
	flat      flatInfo
	serde     codec.Serde
	logger    *Logger
	metrics   MetricsCollector
	resources *resource.Controller

	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *commitState
	fields  []codec.FieldInfo
	closed  bool
}

// Open opens the index stored in store, or an empty one when nothing was
// committed yet.
func Open(ctx context.Context, store blobstore.Store, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)

	flat, err := describeFlat(o.format.Flat)
	if err != nil {
		return nil, err
	}
	var rc *resource.Controller
	if o.limits != nil {
		rc = resource.NewController(resource.Config{
			MemoryLimitBytes:     o.limits.MemoryLimitBytes,
			MaxBackgroundWorkers: o.limits.MaxBackgroundWorkers,
			IOLimitBytesPerSec:   o.limits.IOLimitBytesPerSec,
		})
	}
	if o.cacheBytes > 0 {
		store = blobstore.NewCachingStore(store, cache.NewLRUBlockCache(o.cacheBytes, rc), 0)
	}
	committer := o.committer
	if committer == nil {
		committer = blobstore.NewStoreCommitter(store)
	}

	x := &Index{
		store:     store,
		committer: committer,
		format:    o.format,
		flat:      flat,
		serde:     o.serde,
		logger:    o.logger,
		metrics:   o.metrics,
		resources: rc,
	}

	gen, data, err := committer.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("veccodec: read latest commit: %w", err)
	}
	st := &commitState{gen: gen}
	var recorded []codec.FieldInfo
	if gen > 0 {
		m, err := decodeManifest(gen, data)
		if err != nil {
			return nil, err
		}
		if m.Flat != flat {
			return nil, fmt.Errorf("veccodec: index stores %s vectors (bits %d), configured %s (bits %d)", m.Flat.Name, m.Flat.Bits, flat.Name, flat.Bits)
		}
		for _, r := range m.Fields {
			recorded = append(recorded, r.fieldInfo())
		}
		st.nextSegment = m.NextSegment
		if st.segments, err = x.openSegments(ctx, gen, m.Segments); err != nil {
			return nil, err
		}
	}
	if x.fields, err = mergeFields(recorded, o.fields); err != nil {
		st.release()
		return nil, err
	}
	x.state = st

	x.logger.InfoContext(ctx, "index opened",
		"generation", gen,
		"segments", len(st.segments),
		"fields", len(x.fields),
	)
	return x, nil
}

func (x *Index) openSegments(ctx context.Context, gen uint64, records []segmentRecord) ([]*segment, error) {
	segs := make([]*segment, 0, len(records))
	fail := func(err error) ([]*segment, error) {
		(&commitState{segments: segs}).release()
		return nil, err
	}
	for _, rec := range records {
		deleted, err := unmarshalDeleted(rec.Deleted)
		if err != nil {
			return fail(&ErrCorruptManifest{Generation: gen, cause: fmt.Errorf("segment %s: %w", rec.Name, err)})
		}
		r, err := x.openReader(ctx, rec.Name)
		if err != nil {
			return fail(err)
		}
		segs = append(segs, &segment{name: rec.Name, maxDoc: rec.MaxDoc, deleted: deleted, reader: r})
	}
	return segs, nil
}

func (x *Index) openReader(ctx context.Context, name string) (*segmentReader, error) {
	r, err := x.format.NewReader(ctx, &codec.SegmentReadState{
		Store:   x.store,
		Segment: name,
		Logger:  x.logger.Logger,
		Metrics: x.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("veccodec: open segment %s: %w", name, err)
	}
	sr := &segmentReader{Reader: r, name: name, index: x}
	sr.refs.Store(1)
	return sr, nil
}

// mergeFields checks declared against recorded fields and numbers the new
// ones after the recorded ones.
func mergeFields(recorded, declared []codec.FieldInfo) ([]codec.FieldInfo, error) {
	fields := append([]codec.FieldInfo(nil), recorded...)
	next := 0
	for _, fi := range recorded {
		next = max(next, fi.Number+1)
	}
	for _, fi := range declared {
		if i := fieldIndex(fields, fi.Name); i >= 0 {
			have := fields[i]
			if have.Dimension != fi.Dimension || have.Encoding != fi.Encoding || have.Similarity != fi.Similarity {
				return nil, fmt.Errorf("veccodec: field %s declared as %d %s %s, recorded as %d %s %s",
					fi.Name, fi.Dimension, fi.Encoding, fi.Similarity, have.Dimension, have.Encoding, have.Similarity)
			}
			continue
		}
		fi.Number = next
		next++
		if err := fi.Validate(); err != nil {
			return nil, err
		}
		fields = append(fields, fi)
	}
	return fields, nil
}

func fieldIndex(fields []codec.FieldInfo, name string) int {
	for i, fi := range fields {
		if fi.Name == name {
			return i
		}
	}
	return -1
}

// Fields returns the declared vector fields.
func (x *Index) Fields() []codec.FieldInfo {
	return append([]codec.FieldInfo(nil), x.fields...)
}

func (x *Index) field(name string) (codec.FieldInfo, error) {
	i := fieldIndex(x.fields, name)
	if i < 0 {
		return codec.FieldInfo{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	return x.fields[i], nil
}

// Generation returns the generation of the current commit point, 0 before
// the first commit.
func (x *Index) Generation() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.gen
}

// Segments returns the segments of the current commit point in order.
func (x *Index) Segments() []SegmentInfo {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]SegmentInfo, len(x.state.segments))
	for i, s := range x.state.segments {
		out[i] = s.info()
	}
	return out
}

func (x *Index) checkOpen() error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return ErrClosed
	}
	return nil
}

// snapshot returns the current state with a reference on every segment.
func (x *Index) snapshot() (*commitState, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrClosed
	}
	x.state.acquire()
	return x.state, nil
}

// commit publishes segs as the next generation and installs it. The
// caller holds writeMu and owns one reference on every new reader. The
// files of obsolete readers are deleted once no search uses them.
func (x *Index) commit(ctx context.Context, segs []*segment, nextSegment int64, obsolete ...*segmentReader) error {
	x.mu.RLock()
	closed, gen := x.closed, x.state.gen+1
	x.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	m := &manifest{Flat: x.flat, NextSegment: nextSegment}
	for _, fi := range x.fields {
		m.Fields = append(m.Fields, toRecord(fi))
	}
	for _, s := range segs {
		deleted, err := marshalDeleted(s.deleted)
		if err != nil {
			return err
		}
		m.Segments = append(m.Segments, segmentRecord{Name: s.name, MaxDoc: s.maxDoc, Deleted: deleted})
	}
	data, err := encodeManifest(x.serde, m)
	if err != nil {
		return fmt.Errorf("veccodec: encode manifest: %w", err)
	}

	start := time.Now()
	err = x.committer.Commit(ctx, gen, data)
	x.metrics.RecordCommit(len(segs), time.Since(start), err)
	x.logger.LogCommit(ctx, gen, len(segs), err)
	if err != nil {
		return fmt.Errorf("veccodec: commit generation %d: %w", gen, err)
	}

	for _, r := range obsolete {
		r.obsolete.Store(true)
	}
	next := &commitState{gen: gen, segments: segs, nextSegment: nextSegment}
	next.acquire()

	x.mu.Lock()
	prev := x.state
	x.state = next
	x.mu.Unlock()

	prev.release()
	return nil
}

func (x *Index) newSegmentName() (string, int64) {
	x.mu.RLock()
	n := x.state.nextSegment
	x.mu.RUnlock()
	return "_" + strconv.FormatInt(n, 36), n + 1
}

func (x *Index) deleteSegmentFiles(ctx context.Context, name string) {
	names, err := x.store.List(ctx, name+".")
	if err != nil {
		x.logger.Warn("list segment files failed", "segment", name, "error", err)
		return
	}
	for _, n := range names {
		if err := x.store.Delete(ctx, n); err != nil {
			x.logger.Warn("delete segment file failed", "file", n, "error", err)
		}
	}
}

// CheckIntegrity verifies the checksums of every segment's vector data.
func (x *Index) CheckIntegrity(ctx context.Context) error {
	st, err := x.snapshot()
	if err != nil {
		return err
	}
	defer st.release()
	for _, s := range st.segments {
		if err := s.reader.CheckIntegrity(ctx); err != nil {
			return fmt.Errorf("veccodec: segment %s: %w", s.name, err)
		}
	}
	return nil
}

// Close releases the segment readers. Searches in flight keep their
// segments open until they return.
func (x *Index) Close() error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	st := x.state
	x.mu.Unlock()

	st.release()
	return nil
}

// abandon closes a reader that never made it into a commit and deletes
// its files.
func (x *Index) abandon(r *segmentReader) {
	if r == nil {
		return
	}
	r.obsolete.Store(true)
	r.release()
}

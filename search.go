package veccodec

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/hnswvec"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/hnsw"
)

// SearchOptions tunes a search.
type SearchOptions struct {
	// Ef is the candidate list size per segment. Zero means
	// hnswvec.DefaultEf.
	Ef int
	// VisitLimit caps the scored vectors per segment. Zero means no limit.
	VisitLimit int
	// Segments restricts the search to these segments. Empty means all.
	Segments []string
}

// Hit is a document of one segment and its similarity to the query.
type Hit struct {
	Doc   int
	Score float32
}

// SegmentResult holds the hits of one segment, best first. Scores of
// different segments are comparable but not ranked against each other.
type SegmentResult struct {
	Segment    string
	Hits       []Hit
	Visited    int
	Incomplete bool
}

// Search returns up to k hits per segment for a float query. Deleted
// documents are never returned.
func (x *Index) Search(ctx context.Context, field string, query []float32, k int, optFns ...func(o *SearchOptions)) ([]SegmentResult, error) {
	return x.search(ctx, field, distance.Float32, len(query), k, optFns,
		func(r *hnswvec.Reader, opt func(o *hnswvec.SearchOptions)) (*hnsw.TopDocs, error) {
			return r.Search(ctx, field, query, k, opt)
		})
}

// SearchBytes is Search for byte fields.
func (x *Index) SearchBytes(ctx context.Context, field string, query []byte, k int, optFns ...func(o *SearchOptions)) ([]SegmentResult, error) {
	return x.search(ctx, field, distance.Byte, len(query), k, optFns,
		func(r *hnswvec.Reader, opt func(o *hnswvec.SearchOptions)) (*hnsw.TopDocs, error) {
			return r.SearchBytes(ctx, field, query, k, opt)
		})
}

type segmentSearch func(r *hnswvec.Reader, opt func(o *hnswvec.SearchOptions)) (*hnsw.TopDocs, error)

func (x *Index) search(ctx context.Context, field string, enc distance.Encoding, dim, k int, optFns []func(o *SearchOptions), run segmentSearch) (results []SegmentResult, err error) {
	hits := 0
	defer func() {
		x.logger.LogSearch(ctx, field, k, len(results), hits, err)
	}()

	if k <= 0 {
		return nil, ErrInvalidK
	}
	fi, err := x.field(field)
	if err != nil {
		return nil, err
	}
	if fi.Encoding != enc {
		return nil, fmt.Errorf("veccodec: field %s stores %s vectors, query is %s", field, fi.Encoding, enc)
	}
	if fi.Dimension != dim {
		return nil, &ErrDimensionMismatch{Field: field, Expected: fi.Dimension, Actual: dim}
	}

	opts := SearchOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	st, err := x.snapshot()
	if err != nil {
		return nil, err
	}
	defer st.release()

	for _, s := range st.segments {
		if len(opts.Segments) > 0 && !slices.Contains(opts.Segments, s.name) {
			continue
		}
		live := s.live()
		td, err := run(s.reader.Reader, func(o *hnswvec.SearchOptions) {
			o.Ef = opts.Ef
			o.VisitLimit = opts.VisitLimit
			o.Filter = live
		})
		if err != nil {
			if codec.IsFieldNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("veccodec: search segment %s: %w", s.name, err)
		}
		res := SegmentResult{
			Segment:    s.name,
			Hits:       make([]Hit, len(td.ScoreDocs)),
			Visited:    td.Visited,
			Incomplete: td.Incomplete,
		}
		for i, sd := range td.ScoreDocs {
			res.Hits[i] = Hit{Doc: sd.Doc, Score: sd.Score}
		}
		hits += len(res.Hits)
		results = append(results, res)
	}
	return results, nil
}

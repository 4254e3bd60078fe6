package hnsw

import (
	"context"
	"errors"
	"math"

	"github.com/hupe1980/veccodec/scorer"
)

// ScoreDoc is one search hit.
type ScoreDoc struct {
	Ord   int
	Doc   int
	Score float32
}

// TopDocs holds the hits of a search ordered by score descending, then
// ordinal ascending.
type TopDocs struct {
	ScoreDocs []ScoreDoc
	// Visited is the number of nodes scored.
	Visited int
	// Incomplete is set when the visit limit stopped the search early.
	Incomplete bool
}

// Search returns the k nearest nodes to the query bound in sc. ef is the
// candidate list size on level 0 and is raised to k when smaller. accept
// filters the returned ordinals; a nil accept admits all of them. Search
// scores at most visitLimit nodes; pass math.MaxInt for no limit.
func Search(ctx context.Context, sc scorer.RandomVectorScorer, k, ef int, g Graph, accept func(ord int) bool, visitLimit int) (*TopDocs, error) {
	if k <= 0 {
		return &TopDocs{}, nil
	}
	entry := g.EntryNode()
	if g.Size() == 0 || entry < 0 {
		return &TopDocs{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ef = max(ef, k)
	s := newLevelSearcher(g.Size(), ef)

	score, err := sc.Score(entry)
	if err != nil {
		return nil, err
	}
	s.visited.Visit(int32(entry))
	s.totalVisited = 1
	eps := []candidate{{node: int32(entry), score: score}}

	incomplete := false
	for level := g.NumLevels() - 1; level > 0 && !incomplete; level-- {
		eps, err = s.searchLevel(ctx, sc, g, level, eps, 1, nil, visitLimit, -1)
		if errors.Is(err, errVisitLimit) {
			incomplete = true
		} else if err != nil {
			return nil, err
		}
	}

	var results []candidate
	if incomplete {
		// Upper levels never filter, so their best node may be rejected.
		for _, c := range eps {
			if accept == nil || accept(int(c.node)) {
				results = append(results, c)
			}
		}
	} else {
		results, err = s.searchLevel(ctx, sc, g, 0, eps, ef, accept, visitLimit, -1)
		if errors.Is(err, errVisitLimit) {
			incomplete = true
		} else if err != nil {
			return nil, err
		}
	}

	td := &TopDocs{Visited: s.totalVisited, Incomplete: incomplete}
	if len(results) > k {
		results = results[:k]
	}
	td.ScoreDocs = toScoreDocs(sc, results)
	return td, nil
}

// ExhaustiveSearch scores every accepted ordinal and returns the best k.
func ExhaustiveSearch(ctx context.Context, sc scorer.RandomVectorScorer, k int, accept func(ord int) bool) (*TopDocs, error) {
	if k <= 0 {
		return &TopDocs{}, nil
	}
	results := newNeighborQueue(min(k, sc.MaxOrd())+1, false)
	visited := 0
	for ord := range sc.MaxOrd() {
		if ord%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if accept != nil && !accept(ord) {
			continue
		}
		score, err := sc.Score(ord)
		if err != nil {
			return nil, err
		}
		visited++
		results.PushBounded(candidate{node: int32(ord), score: score}, k)
	}
	return &TopDocs{ScoreDocs: toScoreDocs(sc, results.drainBestFirst()), Visited: visited}, nil
}

func toScoreDocs(sc scorer.RandomVectorScorer, cands []candidate) []ScoreDoc {
	out := make([]ScoreDoc, len(cands))
	for i, c := range cands {
		out[i] = ScoreDoc{Ord: int(c.node), Doc: sc.OrdToDoc(int(c.node)), Score: c.score}
	}
	return out
}

// NoVisitLimit disables the visit limit of Search.
const NoVisitLimit = math.MaxInt

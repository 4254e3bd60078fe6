package hnsw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/hupe1980/veccodec/internal/visited"
	"github.com/hupe1980/veccodec/scorer"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultM is the default maximum number of neighbors per node above
	// level 0.
	DefaultM = 16

	// DefaultBeamWidth is the default candidate list size during
	// construction, also known as efConstruction.
	DefaultBeamWidth = 100

	// DefaultSeed seeds the level generator.
	DefaultSeed int64 = 42

	// MaxM and MaxBeamWidth bound the construction parameters.
	MaxM         = 512
	MaxBeamWidth = 3200

	minM = 2

	// batchSize is the number of ordinals a concurrent worker claims at once.
	batchSize = 64

	progressInterval = 10_000

	// maxConnectRounds bounds the reachability passes per level. A relink
	// that evicts a link can strand another node for the next round.
	maxConnectRounds = 8
)

// Options configures graph construction.
type Options struct {
	// M is the maximum number of neighbors on levels above 0. Level 0 keeps
	// up to 2*M.
	M int
	// BeamWidth is the number of candidates kept while searching for
	// neighbors.
	BeamWidth int
	// Seed seeds the level generator.
	Seed int64
	// DiversityMargin relaxes neighbor diversity. A candidate is dropped
	// when it scores at least its similarity to the inserted node plus the
	// margin against an already selected neighbor. Zero is the strict
	// relative neighborhood rule.
	DiversityMargin float32
	// Initial seeds the graph with an existing one. Nil builds from scratch.
	Initial *InitialGraph
	// Logger receives progress messages. Nil discards them.
	Logger *slog.Logger
}

// InitialGraph is an existing graph whose nodes are renumbered into the new
// ordinal space. Its links are copied instead of rebuilt.
type InitialGraph struct {
	Graph Graph
	// OldToNew maps every ordinal of Graph to its new ordinal.
	OldToNew []int32
}

// DefaultOptions contains the default construction options.
var DefaultOptions = Options{
	M:         DefaultM,
	BeamWidth: DefaultBeamWidth,
	Seed:      DefaultSeed,
}

func (o *Options) validate() error {
	if o.M < minM || o.M > MaxM {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidM, o.M, minM, MaxM)
	}
	if o.BeamWidth < 1 || o.BeamWidth > MaxBeamWidth {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidBeamWidth, o.BeamWidth, MaxBeamWidth)
	}
	if o.DiversityMargin < 0 || math.IsNaN(float64(o.DiversityMargin)) {
		return fmt.Errorf("hnsw: invalid diversity margin %v", o.DiversityMargin)
	}
	if o.Initial != nil && len(o.Initial.OldToNew) != o.Initial.Graph.Size() {
		return fmt.Errorf("hnsw: initial graph of %d nodes with %d mapped ordinals", o.Initial.Graph.Size(), len(o.Initial.OldToNew))
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return nil
}

// Builder inserts ordinals one at a time into an OnHeapGraph.
type Builder struct {
	opts     Options
	supplier scorer.RandomVectorScorerSupplier
	ml       float64
}

// NewBuilder creates a builder over the vectors of supplier.
func NewBuilder(supplier scorer.RandomVectorScorerSupplier, optFns ...func(o *Options)) (*Builder, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Builder{
		opts:     opts,
		supplier: supplier,
		ml:       1 / math.Log(float64(opts.M)),
	}, nil
}

// NewInitializedBuilder creates a builder whose graph starts as a copy of
// init renumbered through oldToNew.
func NewInitializedBuilder(supplier scorer.RandomVectorScorerSupplier, init Graph, oldToNew []int32, optFns ...func(o *Options)) (*Builder, error) {
	return NewBuilder(supplier, append(optFns, func(o *Options) {
		o.Initial = &InitialGraph{Graph: init, OldToNew: oldToNew}
	})...)
}

// Options returns the effective options.
func (b *Builder) Options() Options { return b.opts }

// Build inserts ordinals [0, size) and returns the graph.
func (b *Builder) Build(ctx context.Context, size int) (*OnHeapGraph, error) {
	g, pending, levels, err := b.prepare(size)
	if err != nil {
		return nil, err
	}
	w, err := newWorker(b, g)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	for i, node := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := w.insert(ctx, int(node), levels[i]); err != nil {
			return nil, err
		}
		if (i+1)%progressInterval == 0 {
			b.opts.Logger.Debug("hnsw build progress", slog.Int("inserted", i+1), slog.Int("pending", len(pending)), slog.Duration("elapsed", time.Since(start)))
		}
	}
	relinked, err := b.connectComponents(ctx, g)
	if err != nil {
		return nil, err
	}
	b.logDone(g, len(pending), relinked, start)
	return g, nil
}

func (b *Builder) logDone(g *OnHeapGraph, inserted, relinked int, start time.Time) {
	b.opts.Logger.Debug("hnsw build done",
		slog.Int("nodes", g.Size()),
		slog.Int("inserted", inserted),
		slog.Int("relinked", relinked),
		slog.Int("levels", g.NumLevels()),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// connectComponents links every node that the entry node cannot reach on
// one of the node's levels. Pruning back links during insertion can remove
// the last inbound link of a node. It returns the number of links added.
func (b *Builder) connectComponents(ctx context.Context, g *OnHeapGraph) (int, error) {
	entry := g.EntryNode()
	if entry < 0 {
		return 0, nil
	}
	w, err := newWorker(b, g)
	if err != nil {
		return 0, err
	}
	reached := visited.New(g.Size())
	relinked := 0
	for level := g.NumLevels() - 1; level >= 0; level-- {
		maxConn := maxConnOnLevel(b.opts.M, level)
		for range maxConnectRounds {
			reached.Reset()
			if err := w.reach(level, entry, reached); err != nil {
				return relinked, err
			}
			var stranded []int32
			for _, node := range g.NodesOnLevel(level) {
				if !reached.Visited(node) {
					stranded = append(stranded, node)
				}
			}
			if len(stranded) == 0 {
				break
			}
			for _, node := range stranded {
				if reached.Visited(node) {
					continue
				}
				if err := ctx.Err(); err != nil {
					return relinked, err
				}
				linked, err := w.connect(ctx, int(node), level, entry, maxConn)
				if err != nil {
					return relinked, err
				}
				if !linked {
					continue
				}
				relinked++
				if err := w.reach(level, int(node), reached); err != nil {
					return relinked, err
				}
			}
		}
	}
	return relinked, nil
}

// prepare creates the graph, copies the initial graph and draws the level
// of every ordinal still to insert.
func (b *Builder) prepare(size int) (*OnHeapGraph, []int32, []int, error) {
	g := NewOnHeapGraph(b.opts.M, size)
	initialized := make([]bool, size)
	if b.opts.Initial != nil {
		if err := b.copyInitial(g, initialized); err != nil {
			return nil, nil, nil, err
		}
	}
	rng := newXorshift(b.opts.Seed)
	pending := make([]int32, 0, size)
	levels := make([]int, 0, size)
	for node := range size {
		if initialized[node] {
			continue
		}
		pending = append(pending, int32(node))
		levels = append(levels, rng.randomLevel(b.ml))
	}
	return g, pending, levels, nil
}

// copyInitial adds every node of the initial graph with its original level
// and copies its links, rescored in the new ordinal space.
func (b *Builder) copyInitial(g *OnHeapGraph, initialized []bool) error {
	init := b.opts.Initial
	src := init.Graph
	remap := func(old int32) (int, error) {
		if old < 0 || int(old) >= len(init.OldToNew) {
			return 0, fmt.Errorf("%w: initial node %d outside map", ErrCorruptGraph, old)
		}
		n := int(init.OldToNew[old])
		if n < 0 || n >= g.Size() {
			return 0, fmt.Errorf("%w: initial node %d maps to %d", ErrCorruptGraph, old, n)
		}
		return n, nil
	}

	for level := src.NumLevels() - 1; level >= 0; level-- {
		for _, old := range src.NodesOnLevel(level) {
			node, err := remap(old)
			if err != nil {
				return err
			}
			if !initialized[node] {
				g.AddNode(level, node)
				initialized[node] = true
			}
		}
	}

	sc, err := b.supplier.Scorer()
	if err != nil {
		return err
	}
	maxConn := func(level int) int { return maxConnOnLevel(b.opts.M, level) }
	for level := range src.NumLevels() {
		for _, old := range src.NodesOnLevel(level) {
			node, _ := remap(old)
			nbrs, err := src.Neighbors(level, int(old))
			if err != nil {
				return err
			}
			if err := sc.SetScoringOrdinal(node); err != nil {
				return err
			}
			err = g.withNeighbors(level, node, func(a *NeighborArray) error {
				for _, oldNbr := range nbrs {
					if a.Len() >= maxConn(level) {
						break
					}
					nbr, err := remap(oldNbr)
					if err != nil {
						return err
					}
					score, err := sc.Score(nbr)
					if err != nil {
						return err
					}
					a.Insert(int32(nbr), score)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
	}
	if entry := src.EntryNode(); entry >= 0 {
		node, err := remap(int32(entry))
		if err != nil {
			return err
		}
		g.tryPromoteEntry(node, src.NumLevels()-1)
	}
	return nil
}

// ConcurrentBuilder inserts ordinals from several workers into one shared
// graph.
type ConcurrentBuilder struct {
	*Builder
	workers int
}

// NewConcurrentBuilder creates a builder with the given number of workers.
// workers < 1 means one.
func NewConcurrentBuilder(supplier scorer.RandomVectorScorerSupplier, workers int, optFns ...func(o *Options)) (*ConcurrentBuilder, error) {
	b, err := NewBuilder(supplier, optFns...)
	if err != nil {
		return nil, err
	}
	return &ConcurrentBuilder{Builder: b, workers: max(workers, 1)}, nil
}

// Build inserts ordinals [0, size). The first error cancels every worker.
func (b *ConcurrentBuilder) Build(ctx context.Context, size int) (*OnHeapGraph, error) {
	if b.workers == 1 {
		return b.Builder.Build(ctx, size)
	}
	g, pending, levels, err := b.prepare(size)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var next atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	for range b.workers {
		w, err := newWorker(b.Builder, g)
		if err != nil {
			return nil, err
		}
		eg.Go(func() error {
			for {
				from := int(next.Add(batchSize)) - batchSize
				if from >= len(pending) {
					return nil
				}
				for i := from; i < min(from+batchSize, len(pending)); i++ {
					if err := ctx.Err(); err != nil {
						return err
					}
					if err := w.insert(ctx, int(pending[i]), levels[i]); err != nil {
						return err
					}
				}
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	relinked, err := b.connectComponents(ctx, g)
	if err != nil {
		return nil, err
	}
	b.logDone(g, len(pending), relinked, start)
	return g, nil
}

// worker owns the scorers and scratch state of one inserting goroutine.
type worker struct {
	opts  Options
	graph *OnHeapGraph
	// scorer is bound to the node being inserted, diversity to the
	// candidate being checked.
	scorer    scorer.UpdateableRandomVectorScorer
	diversity scorer.UpdateableRandomVectorScorer
	search    *levelSearcher
	selected  []candidate
	nbrs      []int32
}

func newWorker(b *Builder, g *OnHeapGraph) (*worker, error) {
	supplier, err := b.supplier.Copy()
	if err != nil {
		return nil, err
	}
	sc, err := supplier.Scorer()
	if err != nil {
		return nil, err
	}
	div, err := supplier.Scorer()
	if err != nil {
		return nil, err
	}
	return &worker{
		opts:      b.opts,
		graph:     g,
		scorer:    sc,
		diversity: div,
		search:    newLevelSearcher(g.Size(), b.opts.BeamWidth),
		selected:  make([]candidate, 0, 2*b.opts.M),
	}, nil
}

// insert adds node on levels [0, level] and links it.
func (w *worker) insert(ctx context.Context, node, level int) error {
	g := w.graph
	g.AddNode(level, node)

	entry, entryLevel := g.entryPoint()
	if entry < 0 {
		if g.tryPromoteEntry(node, level) {
			return nil
		}
		entry, entryLevel = g.entryPoint()
	}

	if err := w.scorer.SetScoringOrdinal(node); err != nil {
		return err
	}
	score, err := w.scorer.Score(entry)
	if err != nil {
		return err
	}
	eps := []candidate{{node: int32(entry), score: score}}

	for l := entryLevel; l > level; l-- {
		if eps, err = w.search.searchLevel(ctx, w.scorer, g, l, eps, 1, nil, math.MaxInt, node); err != nil {
			return err
		}
	}
	for l := min(level, entryLevel); l >= 0; l-- {
		cands, err := w.search.searchLevel(ctx, w.scorer, g, l, eps, w.opts.BeamWidth, nil, math.MaxInt, node)
		if err != nil {
			return err
		}
		if err := w.link(node, l, cands); err != nil {
			return err
		}
		eps = cands
	}
	g.tryPromoteEntry(node, level)
	return nil
}

// link selects diverse neighbors among cands, which are ordered best
// first, and adds the reverse links.
func (w *worker) link(node, level int, cands []candidate) error {
	maxConn := maxConnOnLevel(w.opts.M, level)
	w.selected = w.selected[:0]
	for _, c := range cands {
		if len(w.selected) >= maxConn {
			break
		}
		if int(c.node) == node {
			continue
		}
		ok, err := w.isDiverse(c)
		if err != nil {
			return err
		}
		if ok {
			w.selected = append(w.selected, c)
		}
	}

	err := w.graph.withNeighbors(level, node, func(a *NeighborArray) error {
		for _, s := range w.selected {
			if !a.Contains(s.node) {
				a.Insert(s.node, s.score)
			}
		}
		for a.Len() > maxConn {
			if err := w.removeWorstNonDiverse(a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, s := range w.selected {
		err := w.graph.withNeighbors(level, int(s.node), func(a *NeighborArray) error {
			if a.Contains(int32(node)) {
				return nil
			}
			a.Insert(int32(node), s.score)
			if a.Len() > maxConn {
				return w.removeWorstNonDiverse(a)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// reach marks every node reachable from start on level.
func (w *worker) reach(level, start int, reached *visited.Set) error {
	if !reached.Visit(int32(start)) {
		return nil
	}
	stack := []int32{int32(start)}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		var err error
		if w.nbrs, err = w.graph.appendNeighbors(w.nbrs[:0], level, int(node)); err != nil {
			return err
		}
		for _, n := range w.nbrs {
			if reached.Visit(n) {
				stack = append(stack, n)
			}
		}
	}
	return nil
}

// connect adds a link to node from the most similar reachable node that
// has room on level. When every candidate is full the weakest link of the
// most similar one is replaced.
func (w *worker) connect(ctx context.Context, node, level, entry, maxConn int) (bool, error) {
	if err := w.scorer.SetScoringOrdinal(node); err != nil {
		return false, err
	}
	score, err := w.scorer.Score(entry)
	if err != nil {
		return false, err
	}
	eps := []candidate{{node: int32(entry), score: score}}
	cands, err := w.search.searchLevel(ctx, w.scorer, w.graph, level, eps, w.opts.BeamWidth, nil, math.MaxInt, node)
	if err != nil {
		return false, err
	}
	if len(cands) == 0 {
		return false, nil
	}
	for _, c := range cands {
		added := false
		err := w.graph.withNeighbors(level, int(c.node), func(a *NeighborArray) error {
			if a.Len() < maxConn && !a.Contains(int32(node)) {
				a.Insert(int32(node), c.score)
				added = true
			}
			return nil
		})
		if err != nil || added {
			return added, err
		}
	}
	best := cands[0]
	err = w.graph.withNeighbors(level, int(best.node), func(a *NeighborArray) error {
		a.RemoveIndex(a.Len() - 1)
		a.Insert(int32(node), best.score)
		return nil
	})
	return err == nil, err
}

// isDiverse reports whether c is less similar to every selected neighbor
// than to the inserted node.
func (w *worker) isDiverse(c candidate) (bool, error) {
	if len(w.selected) == 0 {
		return true, nil
	}
	if err := w.diversity.SetScoringOrdinal(int(c.node)); err != nil {
		return false, err
	}
	for _, s := range w.selected {
		sim, err := w.diversity.Score(int(s.node))
		if err != nil {
			return false, err
		}
		if sim >= c.score+w.opts.DiversityMargin {
			return false, nil
		}
	}
	return true, nil
}

// removeWorstNonDiverse drops the worst neighbor that is closer to a
// better neighbor than to the owner, or the worst neighbor if all are
// diverse.
func (w *worker) removeWorstNonDiverse(a *NeighborArray) error {
	for i := a.Len() - 1; i > 0; i-- {
		if err := w.diversity.SetScoringOrdinal(int(a.Node(i))); err != nil {
			return err
		}
		for j := range i {
			sim, err := w.diversity.Score(int(a.Node(j)))
			if err != nil {
				return err
			}
			if sim >= a.Score(i)+w.opts.DiversityMargin {
				a.RemoveIndex(i)
				return nil
			}
		}
	}
	a.RemoveIndex(a.Len() - 1)
	return nil
}

// levelSearcher holds the scratch state of level searches.
type levelSearcher struct {
	visited    *visited.Set
	candidates *neighborQueue
	results    *neighborQueue
	nbrs       []int32
	// totalVisited accumulates visits across levels until reset.
	totalVisited int
}

func newLevelSearcher(size, beamWidth int) *levelSearcher {
	return &levelSearcher{
		visited:    visited.New(size),
		candidates: newNeighborQueue(beamWidth, true),
		results:    newNeighborQueue(beamWidth+1, false),
		nbrs:       make([]int32, 0, 64),
	}
}

// neighborAppender is implemented by graphs that copy neighbor lists under
// a lock.
type neighborAppender interface {
	appendNeighbors(dst []int32, level, node int) ([]int32, error)
}

// errVisitLimit stops a level search once visitLimit nodes were scored.
var errVisitLimit = errors.New("hnsw: visit limit reached")

// searchLevel runs a beam search of width topK on level starting at eps.
// Nodes rejected by accept are traversed but not returned. skip is never
// visited; pass -1 to visit every node. The result is ordered best first.
// When the visit limit is hit the best results so far are returned with
// errVisitLimit.
func (s *levelSearcher) searchLevel(ctx context.Context, sc scorer.RandomVectorScorer, g Graph, level int, eps []candidate, topK int, accept func(ord int) bool, visitLimit int, skip int) ([]candidate, error) {
	s.visited.Reset()
	s.candidates.Reset()
	s.results.Reset()
	if skip >= 0 {
		s.visited.Visit(int32(skip))
	}
	appender, _ := g.(neighborAppender)

	for _, ep := range eps {
		if !s.visited.Visit(ep.node) {
			continue
		}
		s.candidates.Push(ep)
		if accept == nil || accept(int(ep.node)) {
			s.results.PushBounded(ep, topK)
		}
	}

	var limitErr error
	for pops := 0; s.candidates.Len() > 0 && limitErr == nil; pops++ {
		if pops%256 == 255 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		c := s.candidates.Pop()
		if s.results.Len() >= topK && c.score < s.results.Top().score {
			break
		}

		var err error
		if appender != nil {
			s.nbrs, err = appender.appendNeighbors(s.nbrs[:0], level, int(c.node))
		} else {
			s.nbrs, err = g.Neighbors(level, int(c.node))
		}
		if err != nil {
			return nil, err
		}
		for _, n := range s.nbrs {
			if !s.visited.Visit(n) {
				continue
			}
			if s.totalVisited >= visitLimit {
				limitErr = errVisitLimit
				break
			}
			s.totalVisited++
			score, err := sc.Score(int(n))
			if err != nil {
				return nil, err
			}
			next := candidate{node: n, score: score}
			if s.results.Len() < topK || score >= s.results.Top().score {
				s.candidates.Push(next)
				if accept == nil || accept(int(n)) {
					s.results.PushBounded(next, topK)
				}
			}
		}
	}
	if appender == nil {
		s.nbrs = s.nbrs[:0:0]
	}
	return s.results.drainBestFirst(), limitErr
}

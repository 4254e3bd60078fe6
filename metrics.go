package veccodec

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/veccodec/codec"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector defines an interface for collecting operational metrics.
// It extends the codec level collector with index level events.
type MetricsCollector interface {
	codec.MetricsCollector

	// RecordCommit is called after each commit attempt. segments is the
	// number of segments of the published commit point.
	RecordCommit(segments int, duration time.Duration, err error)

	// RecordDelete is called after each delete. docs is the number of
	// documents that were newly marked deleted.
	RecordDelete(docs int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct {
	codec.NoopMetricsCollector
}

func (NoopMetricsCollector) RecordCommit(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordDelete(int, error)                {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	FlushVectors     atomic.Int64
	MergeCount       atomic.Int64
	MergeErrors      atomic.Int64
	MergeVectors     atomic.Int64
	Requantizations  atomic.Int64
	GraphBuilds      atomic.Int64
	GraphNodes       atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchVisited    atomic.Int64
	SearchTotalNanos atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	DeletedDocs      atomic.Int64
}

var _ MetricsCollector = (*BasicMetricsCollector)(nil)

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(_ string, vectors int, _ time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushVectors.Add(int64(vectors))
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(_ string, vectors int, requantized bool, _ time.Duration, err error) {
	b.MergeCount.Add(1)
	b.MergeVectors.Add(int64(vectors))
	if requantized {
		b.Requantizations.Add(1)
	}
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// RecordGraphBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGraphBuild(_ string, nodes int, _ time.Duration) {
	b.GraphBuilds.Add(1)
	b.GraphNodes.Add(int64(nodes))
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(_ string, _, visited int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchVisited.Add(int64(visited))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ int, _ time.Duration, err error) {
	b.CommitCount.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(docs int, err error) {
	if err == nil {
		b.DeletedDocs.Add(int64(docs))
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	s := BasicMetricsStats{
		FlushCount:      b.FlushCount.Load(),
		FlushErrors:     b.FlushErrors.Load(),
		FlushVectors:    b.FlushVectors.Load(),
		MergeCount:      b.MergeCount.Load(),
		MergeErrors:     b.MergeErrors.Load(),
		MergeVectors:    b.MergeVectors.Load(),
		Requantizations: b.Requantizations.Load(),
		GraphBuilds:     b.GraphBuilds.Load(),
		GraphNodes:      b.GraphNodes.Load(),
		SearchCount:     b.SearchCount.Load(),
		SearchErrors:    b.SearchErrors.Load(),
		SearchVisited:   b.SearchVisited.Load(),
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		DeletedDocs:     b.DeletedDocs.Load(),
	}
	if s.SearchCount > 0 {
		s.SearchAvgNanos = b.SearchTotalNanos.Load() / s.SearchCount
	}
	return s
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FlushCount      int64
	FlushErrors     int64
	FlushVectors    int64
	MergeCount      int64
	MergeErrors     int64
	MergeVectors    int64
	Requantizations int64
	GraphBuilds     int64
	GraphNodes      int64
	SearchCount     int64
	SearchErrors    int64
	SearchVisited   int64
	SearchAvgNanos  int64
	CommitCount     int64
	CommitErrors    int64
	DeletedDocs     int64
}

// PrometheusCollector exports metrics through client_golang. Field names
// are used as label values, so keep the number of fields small.
type PrometheusCollector struct {
	latency     *prometheus.HistogramVec
	vectors     *prometheus.CounterVec
	requantized *prometheus.CounterVec
	graphNodes  *prometheus.HistogramVec
	visited     *prometheus.HistogramVec
	deleted     prometheus.Counter
}

var _ MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates the collectors and registers them with reg.
// A nil reg selects prometheus.DefaultRegisterer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PrometheusCollector{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veccodec_operation_latency_seconds",
			Help:    "Latency of codec operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		vectors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veccodec_vectors_written_total",
			Help: "Vectors written by flushes and merges",
		}, []string{"op", "field"}),
		requantized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veccodec_requantized_merges_total",
			Help: "Merges that recomputed quantized codes",
		}, []string{"field"}),
		graphNodes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veccodec_graph_nodes",
			Help:    "Nodes of built or merged graphs",
			Buckets: prometheus.ExponentialBuckets(16, 4, 10),
		}, []string{"field"}),
		visited: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veccodec_search_visited_vectors",
			Help:    "Vectors scored per search",
			Buckets: prometheus.ExponentialBuckets(8, 2, 14),
		}, []string{"field"}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veccodec_deleted_documents_total",
			Help: "Documents marked deleted",
		}),
	}
	for _, c := range []prometheus.Collector{p.latency, p.vectors, p.requantized, p.graphNodes, p.visited, p.deleted} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (p *PrometheusCollector) RecordFlush(field string, vectors int, d time.Duration, err error) {
	p.latency.WithLabelValues("flush", status(err)).Observe(d.Seconds())
	if err == nil {
		p.vectors.WithLabelValues("flush", field).Add(float64(vectors))
	}
}

func (p *PrometheusCollector) RecordMerge(field string, vectors int, requantized bool, d time.Duration, err error) {
	p.latency.WithLabelValues("merge", status(err)).Observe(d.Seconds())
	if err != nil {
		return
	}
	p.vectors.WithLabelValues("merge", field).Add(float64(vectors))
	if requantized {
		p.requantized.WithLabelValues(field).Inc()
	}
}

func (p *PrometheusCollector) RecordGraphBuild(field string, nodes int, d time.Duration) {
	p.latency.WithLabelValues("graph_build", status(nil)).Observe(d.Seconds())
	p.graphNodes.WithLabelValues(field).Observe(float64(nodes))
}

func (p *PrometheusCollector) RecordSearch(field string, _, visited int, d time.Duration, err error) {
	p.latency.WithLabelValues("search", status(err)).Observe(d.Seconds())
	if err == nil {
		p.visited.WithLabelValues(field).Observe(float64(visited))
	}
}

func (p *PrometheusCollector) RecordCommit(_ int, d time.Duration, err error) {
	p.latency.WithLabelValues("commit", status(err)).Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordDelete(docs int, err error) {
	if err == nil {
		p.deleted.Add(float64(docs))
	}
}

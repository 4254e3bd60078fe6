package veccodec

import (
	"log/slog"

	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/hnswvec"
)

// ResourceLimits bounds the memory, background workers and I/O rate of
// merges. Zero values mean unlimited, except MaxBackgroundWorkers where
// zero means one.
type ResourceLimits struct {
	MemoryLimitBytes     int64
	MaxBackgroundWorkers int64
	IOLimitBytesPerSec   int64
}

type options struct {
	format     hnswvec.Format
	fields     []codec.FieldInfo
	committer  blobstore.Committer
	serde      codec.Serde
	logger     *Logger
	metrics    MetricsCollector
	limits     *ResourceLimits
	cacheBytes int64
}

// Option configures Open.
type Option func(*options)

// WithFormat configures graph construction and the flat vector format of
// new segments. The flat format must match the one the index was created
// with.
func WithFormat(f hnswvec.Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithFields declares vector fields. Fields already recorded in the index
// must be declared identically; new fields are added with the next commit.
//
// Example:
//
//	idx, _ := veccodec.Open(ctx, store, veccodec.WithFields(codec.FieldInfo{
//	    Name:       "embedding",
//	    Dimension:  384,
//	    Encoding:   distance.Float32,
//	    Similarity: distance.Cosine,
//	}))
func WithFields(fields ...codec.FieldInfo) Option {
	return func(o *options) {
		o.fields = append(o.fields, fields...)
	}
}

// WithCommitter replaces the default blobstore.StoreCommitter, e.g. with
// the DynamoDB committer of the s3 store for concurrent writers.
func WithCommitter(c blobstore.Committer) Option {
	return func(o *options) {
		o.committer = c
	}
}

// WithSerde selects the encoding of new commit manifests. Existing
// manifests are decoded with the serde they were written with.
func WithSerde(s codec.Serde) Option {
	return func(o *options) {
		if s == nil {
			s = codec.DefaultSerde
		}
		o.serde = s
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &veccodec.BasicMetricsCollector{}
//	idx, _ := veccodec.Open(ctx, store, veccodec.WithMetricsCollector(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
//	fmt.Printf("Searches: %d, Avg latency: %dns\n", stats.SearchCount, stats.SearchAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceLimits throttles merges.
func WithResourceLimits(limits ResourceLimits) Option {
	return func(o *options) {
		o.limits = &limits
	}
}

// WithBlockCache caches reads of segment files in blocks, up to capacity
// bytes. Meant for remote stores.
func WithBlockCache(capacity int64) Option {
	return func(o *options) {
		o.cacheBytes = capacity
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		format:  hnswvec.NewFormat(),
		serde:   codec.DefaultSerde,
		metrics: NoopMetricsCollector{},
		logger:  NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

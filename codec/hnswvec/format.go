package hnswvec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/hnsw"
	"github.com/hupe1980/veccodec/internal/compress"
)

const (
	// Name identifies the format.
	Name = "HnswVectors"

	metaCodec  = "HnswVectorsMeta"
	indexCodec = "HnswVectorsIndex"

	// MetaExtension and IndexExtension are the graph file extensions.
	MetaExtension  = "vem"
	IndexExtension = "vex"

	versionStart   uint32 = 0
	versionCurrent        = versionStart

	// DefaultNumMergeWorkers is the number of graph builders used by merges.
	DefaultNumMergeWorkers = 1
)

// Compression selects the block compression of graph streams.
type Compression = compress.Type

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) { return compress.ParseType(s) }

// Format configures graph construction. Zero fields take their defaults.
type Format struct {
	// M is the maximum number of neighbors per node above level 0.
	M int
	// BeamWidth is the candidate list size during construction.
	BeamWidth int
	// NumMergeWorkers bounds the builders of one merge. The segment's
	// resource controller may lower it further.
	NumMergeWorkers int
	Compression     Compression
	DiversityMargin float32
	Seed            int64
	// Flat stores and scores the vectors. Nil means flat.NewFormat().
	Flat codec.FlatFormat
}

// NewFormat returns a Format with default settings and the given options
// applied.
func NewFormat(optFns ...func(f *Format)) Format {
	f := Format{
		M:               hnsw.DefaultM,
		BeamWidth:       hnsw.DefaultBeamWidth,
		NumMergeWorkers: DefaultNumMergeWorkers,
		Seed:            hnsw.DefaultSeed,
		Flat:            flat.NewFormat(),
	}
	for _, fn := range optFns {
		fn(&f)
	}
	return f
}

func (Format) Name() string { return Name }

func (f Format) flatFormat() codec.FlatFormat {
	if f.Flat == nil {
		return flat.NewFormat()
	}
	return f.Flat
}

func (f Format) m() int {
	if f.M == 0 {
		return hnsw.DefaultM
	}
	return f.M
}

func (f Format) beamWidth() int {
	if f.BeamWidth == 0 {
		return hnsw.DefaultBeamWidth
	}
	return f.BeamWidth
}

func (f Format) seed() int64 {
	if f.Seed == 0 {
		return hnsw.DefaultSeed
	}
	return f.Seed
}

func (f Format) validate() error {
	if m := f.m(); m < 2 || m > hnsw.MaxM {
		return fmt.Errorf("%w: %d", hnsw.ErrInvalidM, m)
	}
	if bw := f.beamWidth(); bw < 1 || bw > hnsw.MaxBeamWidth {
		return fmt.Errorf("%w: %d", hnsw.ErrInvalidBeamWidth, bw)
	}
	if f.NumMergeWorkers < 0 {
		return fmt.Errorf("hnswvec: negative merge workers %d", f.NumMergeWorkers)
	}
	if f.Compression > compress.ZSTD {
		return fmt.Errorf("hnswvec: unknown compression %s", f.Compression)
	}
	return nil
}

func (f Format) builderOptions(logger *slog.Logger) func(o *hnsw.Options) {
	return func(o *hnsw.Options) {
		o.M = f.m()
		o.BeamWidth = f.beamWidth()
		o.Seed = f.seed()
		o.DiversityMargin = f.DiversityMargin
		o.Logger = logger
	}
}

func (f Format) NewWriter(ctx context.Context, state *codec.SegmentWriteState) (*Writer, error) {
	return NewWriter(ctx, state, f)
}

func (f Format) NewReader(ctx context.Context, state *codec.SegmentReadState) (*Reader, error) {
	return Open(ctx, state, f)
}

package veccodec

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/codec/flat"
	"github.com/hupe1980/veccodec/codec/hnswvec"
	"github.com/hupe1980/veccodec/codec/sq"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "VECCODEC"

// Config is the environment form of the options, e.g. VECCODEC_HNSW_M=32.
type Config struct {
	M                int     `envconfig:"HNSW_M" default:"16"`
	BeamWidth        int     `envconfig:"HNSW_BEAM_WIDTH" default:"100"`
	Seed             int64   `envconfig:"HNSW_SEED" default:"42"`
	DiversityMargin  float32 `envconfig:"HNSW_DIVERSITY_MARGIN" default:"0"`
	MergeWorkers     int     `envconfig:"MERGE_WORKERS" default:"1"`
	GraphCompression string  `envconfig:"GRAPH_COMPRESSION" default:"none"`
	QuantizeBits     uint8   `envconfig:"QUANTIZE_BITS" default:"0"` // 0 stores raw vectors

	Serde      string `envconfig:"SERDE" default:"go-json"`
	CacheBytes int64  `envconfig:"CACHE_BYTES" default:"0"`

	MemoryLimitBytes     int64 `envconfig:"MEMORY_LIMIT_BYTES" default:"0"`
	MaxBackgroundWorkers int64 `envconfig:"MAX_BACKGROUND_WORKERS" default:"1"`
	IOLimitBytesPerSec   int64 `envconfig:"IO_LIMIT_BYTES_PER_SEC" default:"0"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"` // text or json
}

// LoadConfig reads Config from VECCODEC_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("veccodec: load config: %w", err)
	}
	return cfg, nil
}

// Format returns the segment format described by c.
func (c Config) Format() (hnswvec.Format, error) {
	compression, err := hnswvec.ParseCompression(strings.ToLower(c.GraphCompression))
	if err != nil {
		return hnswvec.Format{}, err
	}
	f := hnswvec.NewFormat(func(f *hnswvec.Format) {
		f.M = c.M
		f.BeamWidth = c.BeamWidth
		f.Seed = c.Seed
		f.DiversityMargin = c.DiversityMargin
		f.NumMergeWorkers = c.MergeWorkers
		f.Compression = compression
		if c.QuantizeBits > 0 {
			f.Flat = sq.NewFormat(c.QuantizeBits)
		} else {
			f.Flat = flat.NewFormat()
		}
	})
	return f, nil
}

// Options converts c into Open options. Fields are not part of Config and
// are passed with WithFields.
func (c Config) Options() ([]Option, error) {
	f, err := c.Format()
	if err != nil {
		return nil, err
	}
	serde, ok := codec.SerdeByName(c.Serde)
	if !ok {
		return nil, fmt.Errorf("veccodec: unknown serde %q", c.Serde)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("veccodec: log level: %w", err)
	}
	var logger *Logger
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		logger = NewTextLogger(level)
	case "json":
		logger = NewJSONLogger(level)
	default:
		return nil, fmt.Errorf("veccodec: unknown log format %q", c.LogFormat)
	}
	return []Option{
		WithFormat(f),
		WithSerde(serde),
		WithLogger(logger),
		WithBlockCache(c.CacheBytes),
		WithResourceLimits(ResourceLimits{
			MemoryLimitBytes:     c.MemoryLimitBytes,
			MaxBackgroundWorkers: c.MaxBackgroundWorkers,
			IOLimitBytesPerSec:   c.IOLimitBytesPerSec,
		}),
	}, nil
}

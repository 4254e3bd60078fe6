package compress

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects the block compression algorithm.
type Type uint8

const (
	None Type = iota
	// LZ4 favors decode speed.
	LZ4
	// ZSTD favors ratio.
	ZSTD
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType parses the String form of a compression type.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("unknown compression %q", s)
	}
}

const (
	headerSize = 8

	// DefaultBlockSize is the uncompressed size of one block.
	DefaultBlockSize = 256 * 1024
)

var (
	ErrCorruptBlock = errors.New("compress: corrupt block")

	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// EncodeBlock returns data framed as one block.
func EncodeBlock(data []byte, t Type) ([]byte, error) {
	var compressed []byte
	switch t {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unsupported type %s", t)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, headerSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[headerSize:], data)
		return out, nil
	}
	out := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[headerSize:], compressed)
	return out, nil
}

// DecodeBlock decodes the block at the start of data and returns its
// content and the number of bytes consumed.
func DecodeBlock(data []byte, t Type) ([]byte, int, error) {
	if len(data) < headerSize {
		return nil, 0, fmt.Errorf("%w: truncated header", ErrCorruptBlock)
	}
	rawSize := binary.LittleEndian.Uint32(data[0:])
	compSize := binary.LittleEndian.Uint32(data[4:])

	if compSize == 0 {
		end := headerSize + int(rawSize)
		if len(data) < end {
			return nil, 0, fmt.Errorf("%w: raw block exceeds data", ErrCorruptBlock)
		}
		return data[headerSize:end], end, nil
	}

	end := headerSize + int(compSize)
	if len(data) < end {
		return nil, 0, fmt.Errorf("%w: compressed block exceeds data", ErrCorruptBlock)
	}
	payload := data[headerSize:end]
	out := make([]byte, rawSize)

	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
		}
		if uint32(n) != rawSize {
			return nil, 0, fmt.Errorf("%w: size mismatch", ErrCorruptBlock)
		}
	case ZSTD:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(payload, out[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorruptBlock, err)
		}
		if uint32(len(decoded)) != rawSize {
			return nil, 0, fmt.Errorf("%w: size mismatch", ErrCorruptBlock)
		}
		out = decoded
	default:
		return nil, 0, fmt.Errorf("%w: compressed block with type %s", ErrCorruptBlock, t)
	}
	return out, end, nil
}

// Writer buffers writes and emits them as compressed blocks.
type Writer struct {
	w         io.Writer
	t         Type
	blockSize int
	buf       *bytes.Buffer
	written   int64
}

// NewWriter creates a block writer. blockSize <= 0 selects DefaultBlockSize.
func NewWriter(w io.Writer, t Type, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Writer{
		w:         w,
		t:         t,
		blockSize: blockSize,
		buf:       bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

func (c *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := c.blockSize - c.buf.Len()
		if space <= 0 {
			if err := c.Flush(); err != nil {
				return total, err
			}
			space = c.blockSize
		}
		n, _ := c.buf.Write(p[:min(len(p), space)])
		total += n
		p = p[n:]
	}
	return total, nil
}

// Flush emits the buffered bytes as one block.
func (c *Writer) Flush() error {
	if c.buf.Len() == 0 {
		return nil
	}
	block, err := EncodeBlock(c.buf.Bytes(), c.t)
	if err != nil {
		return err
	}
	n, err := c.w.Write(block)
	c.written += int64(n)
	if err != nil {
		return err
	}
	c.buf.Reset()
	return nil
}

// BytesWritten returns the framed bytes written so far.
func (c *Writer) BytesWritten() int64 {
	return c.written
}

// DecodeAll decodes consecutive blocks filling data.
func DecodeAll(data []byte, t Type) ([]byte, error) {
	var out []byte
	for len(data) > 0 {
		block, n, err := DecodeBlock(data, t)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		data = data[n:]
	}
	return out, nil
}

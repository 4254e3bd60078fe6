package hash

import (
	"hash"
	"hash/crc32"
	"io"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// NewCRC32C returns a new CRC32-Castagnoli hash.Hash32.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// ChecksumWriter forwards writes to W while accumulating their checksum
// and byte count.
type ChecksumWriter struct {
	W io.Writer
	h hash.Hash32
	n int64
}

// NewChecksumWriter wraps w.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{W: w, h: NewCRC32C()}
}

func (c *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.h.Write(p[:n])
	c.n += int64(n)
	return n, err
}

// Sum32 returns the checksum of everything written so far.
func (c *ChecksumWriter) Sum32() uint32 { return c.h.Sum32() }

// Offset returns the number of bytes written so far.
func (c *ChecksumWriter) Offset() int64 { return c.n }

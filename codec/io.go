package codec

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/internal/hash"
	"github.com/hupe1980/veccodec/internal/resource"
)

const (
	// HeaderMagic starts every segment file.
	HeaderMagic uint32 = 0x3fd76c17
	// FooterMagic starts every footer.
	FooterMagic uint32 = ^HeaderMagic
	// FooterLength is the size of [FooterMagic][crc32c].
	FooterLength = 8

	maxHeaderLength = 4 + 1 + 255 + 4 + 1 + 255
)

// Output writes one segment file: header, body and checksummed footer. The
// blob is published by Close and discarded by Abort.
type Output struct {
	name string
	blob blobstore.WritableBlob
	bw   *bufio.Writer
	cw   *hash.ChecksumWriter
	err  error
	done bool
	buf  [binary.MaxVarintLen64]byte
}

// CreateOutput creates name in store and writes its header. A non-nil rc
// throttles the writes.
func CreateOutput(ctx context.Context, store blobstore.Store, name, codecName string, version uint32, segment string, rc *resource.Controller) (*Output, error) {
	if len(codecName) > 255 || len(segment) > 255 {
		return nil, fmt.Errorf("codec: header names longer than 255 bytes")
	}
	blob, err := store.Create(ctx, name)
	if err != nil {
		return nil, WrapIO("create", name, err)
	}
	var w io.Writer = blob
	if rc != nil {
		w = resource.NewRateLimitedWriter(ctx, blob, rc)
	}
	bw := bufio.NewWriterSize(w, 64*1024)
	o := &Output{
		name: name,
		blob: blob,
		bw:   bw,
		cw:   hash.NewChecksumWriter(bw),
	}

	o.WriteUint32(HeaderMagic)
	o.WriteShortString(codecName)
	o.WriteUint32(version)
	o.WriteShortString(segment)
	if o.err != nil {
		_ = blob.Abort()
		return nil, o.err
	}
	return o, nil
}

// Name returns the blob name.
func (o *Output) Name() string { return o.name }

// Offset returns the number of bytes written so far, header included.
func (o *Output) Offset() int64 { return o.cw.Offset() }

// Err returns the first write error.
func (o *Output) Err() error { return o.err }

func (o *Output) Write(p []byte) (int, error) {
	if o.err != nil {
		return 0, o.err
	}
	n, err := o.cw.Write(p)
	if err != nil {
		o.err = WrapIO("write", o.name, err)
	}
	return n, o.err
}

func (o *Output) WriteByte(b byte) error {
	_, err := o.Write([]byte{b})
	return err
}

func (o *Output) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(o.buf[:4], v)
	_, _ = o.Write(o.buf[:4])
}

func (o *Output) WriteInt32(v int32) { o.WriteUint32(uint32(v)) }

func (o *Output) WriteUint64(v uint64) {
	binary.LittleEndian.PutUint64(o.buf[:8], v)
	_, _ = o.Write(o.buf[:8])
}

func (o *Output) WriteFloat32(v float32) { o.WriteUint32(math.Float32bits(v)) }

func (o *Output) WriteUvarint(v uint64) {
	n := binary.PutUvarint(o.buf[:], v)
	_, _ = o.Write(o.buf[:n])
}

// WriteShortString writes a uint8 length prefixed string of at most 255 bytes.
func (o *Output) WriteShortString(s string) {
	if len(s) > 255 {
		o.err = fmt.Errorf("codec: string of %d bytes too long", len(s))
		return
	}
	_ = o.WriteByte(byte(len(s)))
	_, _ = o.Write([]byte(s))
}

// WriteBytes writes a uint32 length prefixed byte slice.
func (o *Output) WriteBytes(b []byte) {
	o.WriteUint32(uint32(len(b)))
	_, _ = o.Write(b)
}

// Align pads with zeros until Offset is a multiple of alignment.
func (o *Output) Align(alignment int64) {
	if pad := (alignment - o.Offset()%alignment) % alignment; pad > 0 {
		_, _ = o.Write(make([]byte, pad))
	}
}

// Close writes the footer and publishes the blob. On any error the blob
// is aborted.
func (o *Output) Close() error {
	if o.done {
		return o.err
	}
	o.done = true

	o.WriteUint32(FooterMagic)
	if o.err == nil {
		binary.LittleEndian.PutUint32(o.buf[:4], o.cw.Sum32())
		if _, err := o.bw.Write(o.buf[:4]); err != nil {
			o.err = WrapIO("write", o.name, err)
		}
	}
	if o.err == nil {
		if err := o.bw.Flush(); err != nil {
			o.err = WrapIO("flush", o.name, err)
		}
	}
	if o.err != nil {
		_ = o.blob.Abort()
		return o.err
	}
	if err := o.blob.Close(); err != nil {
		o.err = WrapIO("close", o.name, err)
	}
	return o.err
}

// Abort discards the blob. It is a no-op after Close.
func (o *Output) Abort() error {
	if o.done {
		return nil
	}
	o.done = true
	return o.blob.Abort()
}

// Input is an opened segment file with a validated header.
type Input struct {
	Name    string
	Blob    blobstore.Blob
	Version uint32
	// HeaderLength is the offset of the first body byte.
	HeaderLength int64
}

// OpenInput opens name and validates its header against codecName,
// segment and the version range.
func OpenInput(ctx context.Context, store blobstore.Store, name, codecName string, minVersion, maxVersion uint32, segment string) (*Input, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, WrapIO("open", name, err)
	}
	in := &Input{Name: name, Blob: blob}
	if err := in.readHeader(ctx, codecName, minVersion, maxVersion, segment); err != nil {
		_ = blob.Close()
		return nil, err
	}
	return in, nil
}

func (in *Input) readHeader(ctx context.Context, codecName string, minVersion, maxVersion uint32, segment string) error {
	size := in.Blob.Size()
	if size < FooterLength+4 {
		return Corruptf(in.Name, "file of %d bytes is too short", size)
	}
	head, err := blobstore.ReadFull(ctx, in.Blob, 0, min(size, maxHeaderLength))
	if err != nil {
		return WrapIO("read header", in.Name, err)
	}
	r := NewByteReader(in.Name, head)
	if magic := r.Uint32(); magic != HeaderMagic {
		return Corruptf(in.Name, "header magic %#x", magic)
	}
	if got := r.ShortString(); got != codecName {
		return Corruptf(in.Name, "codec %q, expected %q", got, codecName)
	}
	in.Version = r.Uint32()
	if in.Version < minVersion || in.Version > maxVersion {
		return Corruptf(in.Name, "version %d outside [%d, %d]", in.Version, minVersion, maxVersion)
	}
	if got := r.ShortString(); got != segment {
		return Corruptf(in.Name, "segment %q, expected %q", got, segment)
	}
	if r.Err() != nil {
		return r.Err()
	}
	in.HeaderLength = int64(r.Offset())
	return nil
}

// MergeAccess hints sequential access to an input while merge instances
// of its reader are open, and random access again once the last one is
// released. Failed hints are logged at debug level.
type MergeAccess struct {
	in     *Input
	logger *slog.Logger

	mu   sync.Mutex
	open int
}

// NewMergeAccess returns the access hinter of in. logger may be nil.
func NewMergeAccess(in *Input, logger *slog.Logger) *MergeAccess {
	return &MergeAccess{in: in, logger: LoggerOrDiscard(logger)}
}

// Acquire registers a merge instance.
func (a *MergeAccess) Acquire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open++
	if a.open == 1 {
		a.advise(true)
	}
}

// Release unregisters a merge instance.
func (a *MergeAccess) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open == 0 {
		return
	}
	a.open--
	if a.open == 0 {
		a.advise(false)
	}
}

func (a *MergeAccess) advise(sequential bool) {
	adv, ok := a.in.Blob.(blobstore.Advisable)
	if !ok {
		return
	}
	pattern, err := "random", error(nil)
	if sequential {
		pattern, err = "sequential", adv.AdviseSequential()
	} else {
		err = adv.AdviseRandom()
	}
	if err != nil {
		a.logger.Debug("advise failed", slog.String("file", a.in.Name), slog.String("pattern", pattern), slog.Any("error", err))
	}
}

// BodyEnd returns the offset of the footer.
func (in *Input) BodyEnd() int64 { return in.Blob.Size() - FooterLength }

// ReadBody returns the bytes between header and footer.
func (in *Input) ReadBody(ctx context.Context) ([]byte, error) {
	data, err := blobstore.ReadFull(ctx, in.Blob, in.HeaderLength, in.BodyEnd()-in.HeaderLength)
	if err != nil {
		return nil, WrapIO("read", in.Name, err)
	}
	return data, nil
}

// CheckIntegrity streams the whole file and verifies the footer checksum.
func (in *Input) CheckIntegrity(ctx context.Context) error {
	size := in.Blob.Size()
	footer, err := blobstore.ReadFull(ctx, in.Blob, size-FooterLength, FooterLength)
	if err != nil {
		return WrapIO("read footer", in.Name, err)
	}
	if magic := binary.LittleEndian.Uint32(footer); magic != FooterMagic {
		return Corruptf(in.Name, "footer magic %#x", magic)
	}
	expected := binary.LittleEndian.Uint32(footer[4:])

	h := hash.NewCRC32C()
	if _, err := io.Copy(h, blobstore.NewSectionReader(ctx, in.Blob, 0, size-4)); err != nil {
		return WrapIO("checksum", in.Name, err)
	}
	if got := h.Sum32(); got != expected {
		return Corruptf(in.Name, "checksum %#x, footer says %#x", got, expected)
	}
	return nil
}

// Close closes the blob.
func (in *Input) Close() error {
	return in.Blob.Close()
}

// ByteReader decodes little-endian values from a byte slice. The first
// failure is sticky and reported by Err.
type ByteReader struct {
	name string
	data []byte
	off  int
	err  error
}

// NewByteReader creates a reader over data; name is used in errors.
func NewByteReader(name string, data []byte) *ByteReader {
	return &ByteReader{name: name, data: data}
}

func (r *ByteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = Corruptf(r.name, "read of %d bytes at %d past end %d", n, r.off, len(r.data))
		return false
	}
	return true
}

func (r *ByteReader) Err() error        { return r.err }
func (r *ByteReader) Offset() int       { return r.off }
func (r *ByteReader) Len() int          { return len(r.data) - r.off }
func (r *ByteReader) SetOffset(off int) { r.off = off }

func (r *ByteReader) Byte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.data[r.off]
	r.off++
	return b
}

func (r *ByteReader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *ByteReader) Int32() int32 { return int32(r.Uint32()) }

func (r *ByteReader) Uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v
}

func (r *ByteReader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

func (r *ByteReader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		r.err = Corruptf(r.name, "bad varint at %d", r.off)
		return 0
	}
	r.off += n
	return v
}

// ShortString reads a uint8 length prefixed string.
func (r *ByteReader) ShortString() string {
	n := int(r.Byte())
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

// Bytes returns a uint32 length prefixed sub-slice without copying.
func (r *ByteReader) Bytes() []byte {
	n := int(r.Uint32())
	if !r.need(n) {
		return nil
	}
	b := r.data[r.off : r.off+n : r.off+n]
	r.off += n
	return b
}

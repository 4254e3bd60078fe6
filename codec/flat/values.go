package flat

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unsafe"

	"github.com/hupe1980/veccodec/blobstore"
	"github.com/hupe1980/veccodec/codec"
	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/vectors"
)

var littleEndian = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// Slab is a section of a blob holding size fixed-width records.
// It is immutable and may be shared by any number of cursors.
type Slab struct {
	blob   blobstore.Blob
	mapped []byte
	offset int64
	size   int
	stride int
}

// NewSlab describes size records of stride bytes at offset. When the blob
// is mappable the records are served from the mapping.
func NewSlab(blob blobstore.Blob, name string, offset int64, size, stride int) (*Slab, error) {
	length := int64(size) * int64(stride)
	if offset < 0 || size < 0 || offset+length > blob.Size() {
		return nil, codec.Corruptf(name, "section [%d, %d) outside blob of %d bytes", offset, offset+length, blob.Size())
	}
	s := &Slab{blob: blob, offset: offset, size: size, stride: stride}
	if m, ok := blob.(blobstore.Mappable); ok {
		if data, err := m.Bytes(); err == nil && data != nil {
			s.mapped = data[offset : offset+length : offset+length]
		}
	}
	return s, nil
}

// Size returns the number of records.
func (s *Slab) Size() int { return s.size }

// Stride returns the width of one record.
func (s *Slab) Stride() int { return s.stride }

// Mapped reports whether records are read without copying.
func (s *Slab) Mapped() bool { return s.mapped != nil }

// Record returns record ord. Unmapped slabs read into scratch, which must
// hold at least Stride bytes; the result is only valid until the next call
// with the same scratch.
func (s *Slab) Record(ord int, scratch []byte) ([]byte, error) {
	if ord < 0 || ord >= s.size {
		return nil, vectors.ErrOrdOutOfRange
	}
	start := ord * s.stride
	if s.mapped != nil {
		return s.mapped[start : start+s.stride : start+s.stride], nil
	}
	buf := scratch[:s.stride]
	// Accessor reads are not cancellable; the blob bounds their latency.
	n, err := s.blob.ReadAt(context.Background(), buf, s.offset+int64(start))
	if err != nil && !(errors.Is(err, io.EOF) && n == s.stride) {
		return nil, fmt.Errorf("flat: read vector %d: %w", ord, err)
	}
	return buf, nil
}

// FloatValues reads float vectors from a Slab. Each value returned by
// VectorValue is only valid until the next call on the same cursor; use
// Copy for an independent cursor.
type FloatValues struct {
	slab     *Slab
	dim      int
	docs     *vectors.DocsWithFieldSet
	zeroCopy bool
	raw      []byte
	vec      []float32
}

var _ vectors.FloatVectorValues = (*FloatValues)(nil)

// NewFloatValues creates a cursor over slab. docs maps ordinals to
// documents; nil means dense.
func NewFloatValues(slab *Slab, dim int, docs *vectors.DocsWithFieldSet) *FloatValues {
	v := &FloatValues{slab: slab, dim: dim, docs: docs}
	if slab.Mapped() && littleEndian && slab.size > 0 {
		v.zeroCopy = uintptr(unsafe.Pointer(&slab.mapped[0]))%4 == 0
	}
	if !v.zeroCopy {
		v.raw = make([]byte, slab.stride)
		v.vec = make([]float32, dim)
	}
	return v
}

func (v *FloatValues) Dimension() int              { return v.dim }
func (v *FloatValues) Size() int                   { return v.slab.size }
func (v *FloatValues) Encoding() distance.Encoding { return distance.Float32 }

func (v *FloatValues) OrdToDoc(ord int) int {
	if v.docs == nil {
		return ord
	}
	return v.docs.OrdToDoc(ord)
}

func (v *FloatValues) VectorValue(ord int) ([]float32, error) {
	b, err := v.slab.Record(ord, v.raw)
	if err != nil {
		return nil, err
	}
	if v.zeroCopy {
		return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), v.dim), nil
	}
	for i := range v.vec {
		v.vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v.vec, nil
}

func (v *FloatValues) Copy() (vectors.FloatVectorValues, error) {
	return NewFloatValues(v.slab, v.dim, v.docs), nil
}

// ByteValues reads byte vectors from a Slab.
type ByteValues struct {
	slab *Slab
	dim  int
	docs *vectors.DocsWithFieldSet
	raw  []byte
}

var _ vectors.ByteVectorValues = (*ByteValues)(nil)

// NewByteValues creates a cursor over slab.
func NewByteValues(slab *Slab, dim int, docs *vectors.DocsWithFieldSet) *ByteValues {
	v := &ByteValues{slab: slab, dim: dim, docs: docs}
	if !slab.Mapped() {
		v.raw = make([]byte, slab.stride)
	}
	return v
}

func (v *ByteValues) Dimension() int              { return v.dim }
func (v *ByteValues) Size() int                   { return v.slab.size }
func (v *ByteValues) Encoding() distance.Encoding { return distance.Byte }

func (v *ByteValues) OrdToDoc(ord int) int {
	if v.docs == nil {
		return ord
	}
	return v.docs.OrdToDoc(ord)
}

func (v *ByteValues) VectorValue(ord int) ([]byte, error) {
	return v.slab.Record(ord, v.raw)
}

func (v *ByteValues) Copy() (vectors.ByteVectorValues, error) {
	return NewByteValues(v.slab, v.dim, v.docs), nil
}

// appendFloats appends the little-endian encoding of vec to dst.
func appendFloats(dst []byte, vec []float32) []byte {
	for _, f := range vec {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f))
	}
	return dst
}

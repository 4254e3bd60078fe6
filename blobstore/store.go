package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrAborted is returned by writes to a blob whose upload was aborted.
var ErrAborted = errors.New("blobstore: write aborted")

// Store is an abstraction for immutable segment files.
// Implementations must be safe for concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts writing a blob. The blob becomes visible on Close and is
	// discarded on Abort.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a small blob atomically.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob.
type Blob interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange returns a reader over [off, off+length).
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	io.Closer
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Mappable is an optional interface for Blobs that support memory mapping.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	// The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// Advisable is an optional interface for Blobs that accept access hints.
type Advisable interface {
	AdviseSequential() error
	AdviseRandom() error
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	// Close publishes the blob.
	Close() error
	// Abort discards everything written. Abort after Close is a no-op.
	Abort() error
}

// ReadFull reads length bytes at off. Mappable blobs return a zero-copy
// sub-slice of the mapping.
func ReadFull(ctx context.Context, b Blob, off, length int64) ([]byte, error) {
	if off < 0 || length < 0 || off+length > b.Size() {
		return nil, fmt.Errorf("blobstore: range [%d, %d) outside blob of %d bytes", off, off+length, b.Size())
	}
	if m, ok := b.(Mappable); ok {
		data, err := m.Bytes()
		if err == nil && data != nil {
			return data[off : off+length : off+length], nil
		}
	}
	buf := make([]byte, length)
	n, err := b.ReadAt(ctx, buf, off)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return nil, err
	}
	return buf, nil
}

// NopReadCloser wraps r with a no-op Close.
func NopReadCloser(r io.Reader) io.ReadCloser {
	return io.NopCloser(r)
}

// sectionReader adapts a Blob to io.Reader over a byte range.
type sectionReader struct {
	ctx   context.Context
	blob  Blob
	off   int64
	limit int64
}

// NewSectionReader returns a reader over [off, off+length) of b.
func NewSectionReader(ctx context.Context, b Blob, off, length int64) io.Reader {
	return &sectionReader{ctx: ctx, blob: b, off: off, limit: off + length}
}

func (r *sectionReader) Read(p []byte) (int, error) {
	if r.off >= r.limit {
		return 0, io.EOF
	}
	if remaining := r.limit - r.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.blob.ReadAt(r.ctx, p, r.off)
	r.off += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

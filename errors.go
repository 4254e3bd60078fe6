package veccodec

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrClosed is returned by operations on a closed Index.
	ErrClosed = errors.New("veccodec: index closed")

	// ErrUnknownField is returned when a document or query names a field
	// the index was not opened with.
	ErrUnknownField = errors.New("veccodec: unknown field")

	// ErrSegmentNotFound is returned when a segment name is not part of
	// the current commit.
	ErrSegmentNotFound = errors.New("veccodec: segment not found")

	// ErrNoDocuments is returned by AddSegment for an empty batch.
	ErrNoDocuments = errors.New("veccodec: no documents")

	// ErrNothingToMerge is returned by Merge when no segment is committed,
	// or a single one without deletions.
	ErrNothingToMerge = errors.New("veccodec: nothing to merge")
)

// ErrDimensionMismatch indicates a vector or query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Field    string
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch on field %s: expected %d, got %d", e.Field, e.Expected, e.Actual)
}

// ErrDocOutOfRange indicates a document id outside a segment.
type ErrDocOutOfRange struct {
	Segment string
	Doc     int
	MaxDoc  int
}

func (e *ErrDocOutOfRange) Error() string {
	return fmt.Sprintf("document %d out of range [0, %d) in segment %s", e.Doc, e.MaxDoc, e.Segment)
}

// ErrCorruptManifest indicates an unreadable commit manifest.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrCorruptManifest struct {
	Generation uint64
	cause      error
}

func (e *ErrCorruptManifest) Error() string {
	return fmt.Sprintf("corrupt manifest of generation %d: %v", e.Generation, e.cause)
}

func (e *ErrCorruptManifest) Unwrap() error { return e.cause }

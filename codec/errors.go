package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionTooLarge is returned when a field exceeds MaxDimensions.
	ErrDimensionTooLarge = errors.New("codec: vector dimension exceeds limit")

	// ErrInvalidField is returned for field metadata that cannot be written.
	ErrInvalidField = errors.New("codec: invalid field")

	// ErrFieldNotFound is returned when a segment has no vectors for a field.
	ErrFieldNotFound = errors.New("codec: field not found")

	// ErrFieldExists is returned when a field is added to a writer twice.
	ErrFieldExists = errors.New("codec: field already added")

	// ErrFieldFinished is returned when values are added to a finished field.
	ErrFieldFinished = errors.New("codec: field already finished")

	// ErrWriterClosed is returned by operations on a finished or closed writer.
	ErrWriterClosed = errors.New("codec: writer closed")

	// ErrCorruptIndex is returned when a file fails header, footer or
	// structural validation.
	ErrCorruptIndex = errors.New("codec: corrupt index")
)

// IOError wraps a storage failure with the operation and the blob name.
// I/O errors are never retried by the codec.
type IOError struct {
	Op   string
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("codec: %s %s: %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// WrapIO returns nil for a nil err and an *IOError otherwise.
func WrapIO(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Name: name, Err: err}
}

// Corruptf returns an error wrapping ErrCorruptIndex.
func Corruptf(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrCorruptIndex, name, fmt.Sprintf(format, args...))
}

// IsFieldNotFound reports whether err means a segment lacks a field.
func IsFieldNotFound(err error) bool {
	return errors.Is(err, ErrFieldNotFound)
}

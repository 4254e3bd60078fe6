// Package vectors defines the random-access views over a field's vectors.
//
// A value accessor maps a dense vector ordinal in [0, Size()) to the vector
// stored in that slot and to the document that owns it. Accessors are
// cursors: a slice returned by VectorValue may be overwritten by the next
// call on the same accessor, and an accessor must not be shared between
// goroutines. Use Copy to obtain an independent cursor per goroutine.
//
// DocsWithFieldSet records which documents carry a value for the field and
// provides the ordinal/document mapping. It is backed by a roaring bitmap,
// with a dense fast path when every document up to the last one has a value.
package vectors

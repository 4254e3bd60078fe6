// Package codec defines the shared vocabulary of the segment vector
// formats: field metadata, segment read, write and merge state, the flat
// format interfaces, file headers and footers, and error types.
//
// Concrete formats live in sub-packages:
//
//   - codec/flat: raw float32 or byte vectors
//   - codec/sq: scalar quantized vectors on top of codec/flat
//   - codec/hnswvec: an HNSW graph over any flat format
package codec

// Package distance provides the similarity functions used to score vectors.
//
// Every similarity maps a raw comparison (squared distance, dot product or
// cosine) into a bounded, non-negative score where larger means more similar.
// Float kernels run on SIMD via vek32; byte kernels treat each byte as a
// signed int8 component.
//
// # Supported Similarities
//
//   - Euclidean: 1 / (1 + squaredL2)
//   - DotProduct: (1 + dot) / 2, vectors expected to be unit length
//   - Cosine: (1 + cos) / 2
//   - MaximumInnerProduct: dot + 1 for dot >= 0, 1 / (1 - dot) otherwise
//
// # Usage
//
//	score := distance.Euclidean.Compare(a, b)
//	score = distance.Cosine.CompareBytes(x, y)
package distance

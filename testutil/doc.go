// Package testutil provides testing utilities for veccodec.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random vectors, computing exact
// nearest neighbors, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	data := rng.UniformVectors(1000, 128)
//	units := rng.UnitVectors(1000, 128)
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.ExactTopK(data, query, 10, distance.Euclidean)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approx)
package testutil

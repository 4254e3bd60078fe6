// Package quantization provides scalar quantization of float vectors.
//
// A ScalarQuantizer maps each float component into a small unsigned integer
// (up to 7 bits) after clamping it into a [min, max] quantile range learned
// from a sample of the field's vectors. Every quantized vector carries one
// float correction constant that compensates the rounding error for the
// dot-product family of similarities.
//
// # Quantizing
//
//	sq, _ := quantization.FromVectors(values, quantization.DefaultConfidenceInterval(dim), n, 7)
//	codes := make([]byte, dim)
//	corr := sq.Quantize(vec, codes, distance.DotProduct)
//
// # Scoring
//
//	sim := quantization.NewVectorSimilarity(distance.DotProduct, sq.ConstantMultiplier())
//	score := sim.Score(queryCodes, queryCorr, codes, corr)
//
// Scores approximate distance.Similarity.Compare on the original vectors.
// Ranking fidelity improves with the bit width.
package quantization

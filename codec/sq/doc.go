// Package sq implements the scalar quantized flat vector format.
//
// The format keeps the raw float vectors in the flat format files and adds
// a quantized copy used for scoring:
//
//	<segment>.veq   per vector: dim code bytes followed by a float32
//	                score correction constant
//	<segment>.vemq  per field: the section of .veq and the quantizer
//
// Searching and graph construction score the quantized codes. Merges reuse
// the codes of every segment whose quantiles are close to the merged
// quantiles and requantize from the raw vectors otherwise.
package sq

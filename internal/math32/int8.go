// Package math32 provides scalar kernels for signed 8-bit vectors.
// This is an internal package - external users should use the distance package.
package math32

import "math"

// DotInt8 computes the dot product of two int8 vectors carried in byte slices.
// Assumes len(a) == len(b).
func DotInt8(a, b []byte) int32 {
	var sum int32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		sum += int32(int8(a[i]))*int32(int8(b[i])) +
			int32(int8(a[i+1]))*int32(int8(b[i+1])) +
			int32(int8(a[i+2]))*int32(int8(b[i+2])) +
			int32(int8(a[i+3]))*int32(int8(b[i+3]))
	}
	for ; i < len(a); i++ {
		sum += int32(int8(a[i])) * int32(int8(b[i]))
	}
	return sum
}

// SquaredL2Int8 computes the squared euclidean distance of two int8 vectors.
func SquaredL2Int8(a, b []byte) int32 {
	var sum int32
	for i := range a {
		d := int32(int8(a[i])) - int32(int8(b[i]))
		sum += d * d
	}
	return sum
}

// CosineInt8 computes the cosine of the angle between two int8 vectors.
// Returns 0 when either vector has zero norm.
func CosineInt8(a, b []byte) float32 {
	var dot, normA, normB int32
	for i := range a {
		x := int32(int8(a[i]))
		y := int32(int8(b[i]))
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(float64(dot) / math.Sqrt(float64(normA)*float64(normB)))
}

// DotUint8 computes the dot product of two unsigned code vectors.
// Quantized codes never exceed 127, so the signed and unsigned views agree,
// but the unsigned form avoids sign extension in the hot loop.
func DotUint8(a, b []byte) int32 {
	var sum int32
	i := 0
	for ; i+4 <= len(a); i += 4 {
		sum += int32(a[i])*int32(b[i]) +
			int32(a[i+1])*int32(b[i+1]) +
			int32(a[i+2])*int32(b[i+2]) +
			int32(a[i+3])*int32(b[i+3])
	}
	for ; i < len(a); i++ {
		sum += int32(a[i]) * int32(b[i])
	}
	return sum
}

// SquaredL2Uint8 computes the squared euclidean distance of two code vectors.
func SquaredL2Uint8(a, b []byte) int32 {
	var sum int32
	for i := range a {
		d := int32(a[i]) - int32(b[i])
		sum += d * d
	}
	return sum
}

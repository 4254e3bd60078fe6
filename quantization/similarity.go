package quantization

import (
	"fmt"

	"github.com/hupe1980/veccodec/distance"
	"github.com/hupe1980/veccodec/internal/math32"
)

// VectorSimilarity scores two quantized vectors given their correction
// constants. Implementations are stateless and safe for concurrent use.
type VectorSimilarity interface {
	Score(query []byte, queryOffset float32, vec []byte, vecOffset float32) float32
}

// NewVectorSimilarity returns the quantized counterpart of sim for codes
// produced by a quantizer with the given constant multiplier.
func NewVectorSimilarity(sim distance.Similarity, constMultiplier float32) VectorSimilarity {
	switch sim {
	case distance.Euclidean:
		return euclideanSimilarity{c: constMultiplier}
	case distance.DotProduct, distance.Cosine:
		return dotProductSimilarity{c: constMultiplier}
	case distance.MaximumInnerProduct:
		return maxInnerProductSimilarity{c: constMultiplier}
	default:
		panic(fmt.Sprintf("quantization: unsupported similarity %d", uint8(sim)))
	}
}

type euclideanSimilarity struct{ c float32 }

func (s euclideanSimilarity) Score(q []byte, _ float32, v []byte, _ float32) float32 {
	return 1 / (1 + s.c*float32(math32.SquaredL2Uint8(q, v)))
}

type dotProductSimilarity struct{ c float32 }

func (s dotProductSimilarity) Score(q []byte, qOff float32, v []byte, vOff float32) float32 {
	adjusted := float32(math32.DotUint8(q, v))*s.c + qOff + vOff
	return max((1+adjusted)/2, 0)
}

type maxInnerProductSimilarity struct{ c float32 }

func (s maxInnerProductSimilarity) Score(q []byte, qOff float32, v []byte, vOff float32) float32 {
	adjusted := float32(math32.DotUint8(q, v))*s.c + qOff + vOff
	return distance.ScaleMaxInnerProductScore(adjusted)
}

package hnsw

import "math"

// xorshift is a 64 bit xorshift generator. Builders draw node levels from
// it so a seed fully determines the level structure.
type xorshift struct{ s uint64 }

func newXorshift(seed int64) *xorshift {
	s := uint64(seed)
	if s == 0 {
		s = 0x9E3779B97F4A7C15
	}
	return &xorshift{s: s}
}

func (x *xorshift) next() uint64 {
	x.s ^= x.s << 13
	x.s ^= x.s >> 7
	x.s ^= x.s << 17
	return x.s
}

// float64 returns a value in (0, 1].
func (x *xorshift) float64() float64 {
	return float64(x.next()>>11+1) / (1 << 53)
}

// randomLevel draws floor(-ln(U) * ml).
func (x *xorshift) randomLevel(ml float64) int {
	return min(int(-math.Log(x.float64())*ml), maxLevel)
}

// maxLevel caps drawn levels; with M >= 2 reaching it is practically impossible.
const maxLevel = 32

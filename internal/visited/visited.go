// Package visited tracks the ordinals a graph traversal has already scored.
package visited

// Set is a bitset over ordinals with a dirty list for cheap reuse. It is
// sized for a graph up front and grows on demand.
type Set struct {
	bits  []uint64
	dirty []int32
}

// New creates a set for ordinals [0, capacity).
func New(capacity int) *Set {
	return &Set{
		bits:  make([]uint64, (capacity+63)/64),
		dirty: make([]int32, 0, 128),
	}
}

// Visit marks ord and reports whether it was not visited before.
func (s *Set) Visit(ord int32) bool {
	word := int(ord >> 6)
	mask := uint64(1) << (uint(ord) & 63)
	if word >= len(s.bits) {
		s.grow(word + 1)
	}
	if s.bits[word]&mask != 0 {
		return false
	}
	s.bits[word] |= mask
	s.dirty = append(s.dirty, ord)
	return true
}

// Visited reports whether ord was visited.
func (s *Set) Visited(ord int32) bool {
	word := int(ord >> 6)
	if word >= len(s.bits) {
		return false
	}
	return s.bits[word]&(uint64(1)<<(uint(ord)&63)) != 0
}

// Count returns the number of ordinals visited since the last Reset.
func (s *Set) Count() int { return len(s.dirty) }

// Reset clears only the words touched since the last Reset.
func (s *Set) Reset() {
	for _, ord := range s.dirty {
		s.bits[ord>>6] = 0
	}
	s.dirty = s.dirty[:0]
}

func (s *Set) grow(words int) {
	bits := make([]uint64, max(len(s.bits)*2, words))
	copy(bits, s.bits)
	s.bits = bits
}

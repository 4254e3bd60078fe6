package hnsw

// NeighborArray holds the neighbors of one node on one level, sorted by
// score descending and ordinal ascending on ties. It is not synchronized;
// OnHeapGraph guards every array with the owning node's lock.
type NeighborArray struct {
	nodes  []int32
	scores []float32
}

// NewNeighborArray creates an empty array with room for capacity entries.
func NewNeighborArray(capacity int) *NeighborArray {
	return &NeighborArray{
		nodes:  make([]int32, 0, capacity),
		scores: make([]float32, 0, capacity),
	}
}

func (a *NeighborArray) Len() int            { return len(a.nodes) }
func (a *NeighborArray) Node(i int) int32    { return a.nodes[i] }
func (a *NeighborArray) Score(i int) float32 { return a.scores[i] }

// Nodes returns the neighbor ordinals. The slice aliases the array.
func (a *NeighborArray) Nodes() []int32 { return a.nodes }

// Insert adds node at its sorted position.
func (a *NeighborArray) Insert(node int32, score float32) {
	i := len(a.nodes)
	for i > 0 && ranksBefore(node, score, a.nodes[i-1], a.scores[i-1]) {
		i--
	}
	a.nodes = append(a.nodes, 0)
	a.scores = append(a.scores, 0)
	copy(a.nodes[i+1:], a.nodes[i:])
	copy(a.scores[i+1:], a.scores[i:])
	a.nodes[i] = node
	a.scores[i] = score
}

// RemoveIndex deletes the entry at i.
func (a *NeighborArray) RemoveIndex(i int) {
	a.nodes = append(a.nodes[:i], a.nodes[i+1:]...)
	a.scores = append(a.scores[:i], a.scores[i+1:]...)
}

// Contains reports whether node is a neighbor.
func (a *NeighborArray) Contains(node int32) bool {
	for _, n := range a.nodes {
		if n == node {
			return true
		}
	}
	return false
}

// Clear removes every entry and keeps the capacity.
func (a *NeighborArray) Clear() {
	a.nodes = a.nodes[:0]
	a.scores = a.scores[:0]
}

// ranksBefore orders by score descending, then ordinal ascending.
func ranksBefore(nodeA int32, scoreA float32, nodeB int32, scoreB float32) bool {
	if scoreA != scoreB {
		return scoreA > scoreB
	}
	return nodeA < nodeB
}

package hnsw

// candidate is a scored node.
type candidate struct {
	node  int32
	score float32
}

// better orders by score descending, then ordinal ascending.
func (c candidate) better(o candidate) bool {
	return ranksBefore(c.node, c.score, o.node, o.score)
}

// neighborQueue is a binary heap of candidates. A best-first queue keeps
// the best candidate on top; a worst-first queue keeps the worst on top and
// serves as a bounded result set. Ties on score are broken by ordinal, so
// the lower ordinal always counts as better.
type neighborQueue struct {
	bestFirst bool
	items     []candidate
}

func newNeighborQueue(capacity int, bestFirst bool) *neighborQueue {
	return &neighborQueue{bestFirst: bestFirst, items: make([]candidate, 0, capacity)}
}

func (q *neighborQueue) Len() int { return len(q.items) }

func (q *neighborQueue) Reset() { q.items = q.items[:0] }

// Top returns the top candidate. The queue must not be empty.
func (q *neighborQueue) Top() candidate { return q.items[0] }

func (q *neighborQueue) less(i, j int) bool {
	if q.bestFirst {
		return q.items[i].better(q.items[j])
	}
	return q.items[j].better(q.items[i])
}

func (q *neighborQueue) Push(c candidate) {
	q.items = append(q.items, c)
	q.siftUp(len(q.items) - 1)
}

// PushBounded inserts c into a worst-first queue of at most capacity
// entries. It reports whether c was kept.
func (q *neighborQueue) PushBounded(c candidate, capacity int) bool {
	if len(q.items) < capacity {
		q.Push(c)
		return true
	}
	if !c.better(q.items[0]) {
		return false
	}
	q.items[0] = c
	q.siftDown(0)
	return true
}

func (q *neighborQueue) Pop() candidate {
	n := len(q.items)
	top := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return top
}

// drainBestFirst empties the queue and returns its candidates best first.
func (q *neighborQueue) drainBestFirst() []candidate {
	out := make([]candidate, q.Len())
	if q.bestFirst {
		for i := range out {
			out[i] = q.Pop()
		}
		return out
	}
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = q.Pop()
	}
	return out
}

func (q *neighborQueue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *neighborQueue) siftDown(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		child := left
		if right := left + 1; right < n && q.less(right, left) {
			child = right
		}
		if !q.less(child, i) {
			return
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}

package reconciler

// fifo is a fixed-capacity queue that drops its oldest entry when full.
type fifo[T any] struct {
	items []T
	head  int
	size  int
}

func newFIFO[T any](capacity int) *fifo[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &fifo[T]{items: make([]T, capacity)}
}

// push appends v and reports whether the oldest entry was evicted to make room.
func (q *fifo[T]) push(v T) bool {
	if q.size == len(q.items) {
		q.items[q.head] = v
		q.head = (q.head + 1) % len(q.items)
		return true
	}
	q.items[(q.head+q.size)%len(q.items)] = v
	q.size++
	return false
}

// drain removes and returns every entry, oldest first.
func (q *fifo[T]) drain() []T {
	out := make([]T, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.items[(q.head+i)%len(q.items)])
	}
	q.reset()
	return out
}

func (q *fifo[T]) reset() {
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head = 0
	q.size = 0
}

func (q *fifo[T]) len() int { return q.size }

// Package queue holds serialized records between producers and the sender.
package queue

import "sync"

// Queue is a bounded FIFO of serialized records guarded by its own lock.
// No method waits for space or data.
type Queue struct {
	mu       sync.Mutex
	items    [][]byte
	capacity int
}

func New(capacity int) *Queue {
	return &Queue{
		items:    make([][]byte, 0, capacity),
		capacity: capacity,
	}
}

// TryEnqueue appends record unless the queue is full, in which case the
// record is discarded and false is returned.
func (q *Queue) TryEnqueue(record []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, record)
	return true
}

// Drain removes and returns up to max records in enqueue order.
func (q *Queue) Drain(max int) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 || max <= 0 {
		return nil
	}
	if n > max {
		n = max
	}

	out := make([][]byte, n)
	copy(out, q.items[:n])

	// shift the remainder down so the backing array stays bounded by capacity
	rest := copy(q.items, q.items[n:])
	clear(q.items[rest:])
	q.items = q.items[:rest]

	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Cap() int {
	return q.capacity
}

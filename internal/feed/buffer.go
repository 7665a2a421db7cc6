package feed

import (
	"sync"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 50

// Buffer is a thread-safe, fixed-capacity, newest-first event buffer.
// Once full, each Push evicts the oldest item.
type Buffer[T any] struct {
	mu    sync.Mutex
	buf   []T
	head  int // index of the newest item
	count int

	// Stats
	totalPushed  int64
	totalEvicted int64
}

// NewBuffer creates a buffer holding at most capacity items.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer[T]{
		buf:  make([]T, capacity),
		head: -1,
	}
}

// Push prepends item, evicting the oldest item when the buffer is full.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The slot after head (mod capacity) holds the oldest item once full.
	b.head = (b.head + 1) % len(b.buf)
	b.buf[b.head] = item

	if b.count < len(b.buf) {
		b.count++
	} else {
		b.totalEvicted++
	}
	b.totalPushed++
}

// Items returns a copy of the buffered items, newest first.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[b.index(i)]
	}
	return out
}

// Newest returns the most recently pushed item.
func (b *Buffer[T]) Newest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.buf[b.head], true
}

// Reset drops all items. Stats are kept.
func (b *Buffer[T]) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.buf {
		b.buf[i] = zero // Clear references for GC
	}
	b.head = -1
	b.count = 0
}

// Len returns the current number of items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.buf)
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Count:        b.count,
		Capacity:     len(b.buf),
		TotalPushed:  b.totalPushed,
		TotalEvicted: b.totalEvicted,
	}
}

// Stats contains buffer statistics.
type Stats struct {
	Count        int
	Capacity     int
	TotalPushed  int64
	TotalEvicted int64
}

// index maps a newest-first position to a slot. Must be called with lock held.
func (b *Buffer[T]) index(pos int) int {
	n := len(b.buf)
	return ((b.head-pos)%n + n) % n
}

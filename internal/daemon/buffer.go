package daemon

import "sync"

// RingBuffer is a thread-safe circular buffer with fixed capacity.
// When the buffer is full, new items overwrite the oldest items.
type RingBuffer[T any] struct {
	items   []T
	head    int // next write position
	count   int
	cap     int
	dropped uint64 // items overwritten since creation
	mu      sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Push adds an item to the buffer.
// If the buffer is full, the oldest item is overwritten.
func (b *RingBuffer[T]) Push(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.cap

	if b.count < b.cap {
		b.count++
	} else {
		b.dropped++
	}
}

// All returns all items in the buffer, oldest first.
// Allocates a new slice on each call.
func (b *RingBuffer[T]) All() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return nil
	}

	result := make([]T, b.count)

	// head points at the oldest item once the buffer has wrapped.
	start := 0
	if b.count == b.cap {
		start = b.head
	}

	for i := 0; i < b.count; i++ {
		result[i] = b.items[(start+i)%b.cap]
	}

	return result
}

// Len returns the current number of items in the buffer.
func (b *RingBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *RingBuffer[T]) Cap() int {
	return b.cap
}

// Dropped returns how many items have been overwritten.
func (b *RingBuffer[T]) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Clear removes all items from the buffer and returns how many there were.
func (b *RingBuffer[T]) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Zero out items to allow GC
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}

	n := b.count
	b.head = 0
	b.count = 0
	return n
}

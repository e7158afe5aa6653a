package buffer

import "sync"

// SwapBuffer is an ordered, thread-safe collection of pending items for a
// single destination. Appends and drains may race freely; the drain swap is
// indivisible with respect to appends.
type SwapBuffer[T any] struct {
	mu    sync.Mutex
	items []T

	// Lifetime counters, guarded by mu.
	appended uint64
	drained  uint64
	dropped  uint64
}

// New creates an empty SwapBuffer.
func New[T any]() *SwapBuffer[T] {
	return &SwapBuffer[T]{}
}

// Append adds an item to the tail of the current batch. It never blocks for
// longer than the slice append under the lock.
func (b *SwapBuffer[T]) Append(item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.appended++
	b.mu.Unlock()
}

// Drain atomically returns all pending items and installs a fresh batch for
// subsequent appends. The returned slice is exclusively owned by the caller.
func (b *SwapBuffer[T]) Drain() []T {
	b.mu.Lock()
	out := b.items
	b.items = nil
	b.drained += uint64(len(out))
	b.mu.Unlock()
	return out
}

// Len reports the current pending count. It is a threshold heuristic only;
// a concurrent append may change the count before the caller acts on it.
func (b *SwapBuffer[T]) Len() int {
	b.mu.Lock()
	n := len(b.items)
	b.mu.Unlock()
	return n
}

// Reset discards all pending items unconditionally and returns how many were
// dropped. Used when the owning producer is in its backoff window.
func (b *SwapBuffer[T]) Reset() int {
	b.mu.Lock()
	n := len(b.items)
	b.items = nil
	b.dropped += uint64(n)
	b.mu.Unlock()
	return n
}

// Stats reports lifetime append/drain/drop counts.
func (b *SwapBuffer[T]) Stats() (appended, drained, dropped uint64) {
	b.mu.Lock()
	appended, drained, dropped = b.appended, b.drained, b.dropped
	b.mu.Unlock()
	return
}

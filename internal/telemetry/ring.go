// Package telemetry holds the bounded per-session buffers that collect
// unsolicited plugin output: console entries, document changes, and the
// current selection.
package telemetry

import "sync"

// Ring is a fixed-capacity FIFO buffer. Once full, each Push evicts the
// oldest entry. It is safe for concurrent use.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	start int
	size  int
}

// NewRing returns a ring holding at most capacity entries. A non-positive
// capacity is treated as 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when the ring is full. It
// reports whether an entry was evicted.
func (r *Ring[T]) Push(v T) bool {
	_, evicted := r.PushEvict(v)
	return evicted
}

// PushEvict is Push that also returns the evicted entry.
func (r *Ring[T]) PushEvict(v T) (old T, evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return old, false
	}
	old = r.items[r.start]
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
	return old, true
}

// Snapshot returns a copy of the buffered entries, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.start+i)%len(r.items)]
	}
	return out
}

// Len returns the number of buffered entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Clear drops every entry and returns how many were removed.
func (r *Ring[T]) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.start = 0
	r.size = 0
	return n
}

// lastN returns the trailing n entries of in, or all of them when n <= 0.
func lastN[T any](in []T, n int) []T {
	if n <= 0 || n >= len(in) {
		return in
	}
	return in[len(in)-n:]
}

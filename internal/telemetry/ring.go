package telemetry

// Ring is a fixed-capacity FIFO that overwrites its oldest value when full.
// Not safe for concurrent use; the caller synchronizes.
type Ring[T any] struct {
	buf   []T
	head  int // next write position
	count int
}

// NewRing returns an empty ring holding at most capacity values.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value once the ring is full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Values returns the contents oldest first in a fresh slice.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

package measurement

// Ring is a fixed-capacity circular buffer. Push is O(1) and evicts the
// oldest entry once the buffer is full. Ring is not safe for concurrent use;
// owners guard it with their own lock.
type Ring[T any] struct {
	buf   []T
	start int // index of the oldest entry
	n     int
}

// NewRing creates a ring holding at most capacity entries (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when full. It reports whether an
// entry was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return false
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th entry, oldest first. It panics when i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("measurement: ring index out of range")
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// Newest returns the most recent entry, if any.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.n == 0 {
		return zero, false
	}
	return r.At(r.n - 1), true
}

// Items returns a copy of all entries, oldest first.
func (r *Ring[T]) Items() []T {
	return r.Last(r.n)
}

// Last returns a copy of the newest k entries, oldest first.
func (r *Ring[T]) Last(k int) []T {
	if k > r.n {
		k = r.n
	}
	if k <= 0 {
		return nil
	}
	out := make([]T, k)
	for i := 0; i < k; i++ {
		out[i] = r.At(r.n - k + i)
	}
	return out
}

// Resize changes the capacity, keeping the newest entries that fit.
func (r *Ring[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	if capacity == len(r.buf) {
		return
	}
	keep := r.Last(capacity)
	r.buf = make([]T, capacity)
	r.start = 0
	r.n = copy(r.buf, keep)
}

// Reset drops all entries without changing capacity.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start, r.n = 0, 0
}

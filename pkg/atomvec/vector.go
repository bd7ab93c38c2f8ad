package atomvec

import "sort"

// AtomicVector is a SingleWriter[[]T] specialized for the sorted-tail
// workload: many concurrent readers scanning a snapshot slice, one writer
// appending, trimming, or inserting in sorted position. Every mutator
// clones the backing slice before touching it, so a Snapshot taken mid-Edit
// always sees either the whole old slice or the whole new one, never a
// partial write.
type AtomicVector[T any] struct {
	w    *SingleWriter[[]T]
	less func(a, b T) bool
}

// NewVector returns an empty AtomicVector ordered by less. less is only
// consulted by Insert; Append and the erase operations don't require an
// order.
func NewVector[T any](less func(a, b T) bool) *AtomicVector[T] {
	return &AtomicVector[T]{w: New[[]T](nil), less: less}
}

// Snapshot returns the current backing slice. Callers must not mutate the
// returned slice; it is shared with the live value until the next write.
func (v *AtomicVector[T]) Snapshot() []T {
	return v.w.Snapshot()
}

// Len returns the current element count.
func (v *AtomicVector[T]) Len() int {
	return len(v.w.Snapshot())
}

// At returns a copy of the element at index i, and whether i was in range.
func (v *AtomicVector[T]) At(i int) (T, bool) {
	cur := v.w.Snapshot()
	var zero T
	if i < 0 || i >= len(cur) {
		return zero, false
	}
	return cur[i], true
}

// Append adds value to the end of the vector.
func (v *AtomicVector[T]) Append(value T) {
	v.w.Edit(func(cur *[]T) {
		s := *cur
		next := make([]T, len(s)+1)
		copy(next, s)
		next[len(s)] = value
		*cur = next
	})
}

// Insert places value in sorted position according to less.
func (v *AtomicVector[T]) Insert(value T) {
	v.w.Edit(func(cur *[]T) {
		s := *cur
		i := sort.Search(len(s), func(i int) bool { return v.less(value, s[i]) })
		next := make([]T, len(s)+1)
		copy(next, s[:i])
		next[i] = value
		copy(next[i+1:], s[i:])
		*cur = next
	})
}

// EraseFront drops the first n elements (clamped to the current length).
func (v *AtomicVector[T]) EraseFront(n int) {
	v.w.Edit(func(cur *[]T) {
		s := *cur
		if n > len(s) {
			n = len(s)
		}
		next := make([]T, len(s)-n)
		copy(next, s[n:])
		*cur = next
	})
}

// EraseBack drops the last n elements (clamped to the current length).
func (v *AtomicVector[T]) EraseBack(n int) {
	v.w.Edit(func(cur *[]T) {
		s := *cur
		if n > len(s) {
			n = len(s)
		}
		next := make([]T, len(s)-n)
		copy(next, s[:len(s)-n])
		*cur = next
	})
}

// Replace atomically swaps in a caller-built slice, bypassing the
// clone-then-mutate path (e.g. for a freshly merged or re-sorted vector).
func (v *AtomicVector[T]) Replace(values []T) {
	v.w.Publish(values)
}

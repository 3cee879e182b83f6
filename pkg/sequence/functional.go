package sequence

import (
	"iter"
)

// Iterator is a generic, immutable, chainable iterator for any type T.
type Iterator[T any] struct {
	seq iter.Seq[T]
}

// From creates a new Iterator over a slice. The slice is not copied.
func From[T any](data []T) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			for _, v := range data {
				if !yield(v) {
					return
				}
			}
		},
	}
}

// Seq returns the underlying sequence, usable in range-over-func loops.
func (i *Iterator[T]) Seq() iter.Seq[T] {
	return i.seq
}

// Collect exhausts the iterator and returns a slice of all elements.
func (i *Iterator[T]) Collect() []T {
	var out []T
	i.seq(func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Filter returns a new Iterator containing only elements that satisfy pred.
func (i *Iterator[T]) Filter(pred func(T) bool) *Iterator[T] {
	return &Iterator[T]{
		seq: func(yield func(T) bool) {
			i.seq(func(v T) bool {
				if pred(v) {
					return yield(v)
				}
				return true
			})
		},
	}
}

// First returns the first element, if any.
func (i *Iterator[T]) First() (T, bool) {
	var (
		out   T
		found bool
	)
	i.seq(func(v T) bool {
		out, found = v, true
		return false
	})
	return out, found
}

// Any reports whether any element satisfies pred.
func (i *Iterator[T]) Any(pred func(T) bool) bool {
	_, ok := i.Filter(pred).First()
	return ok
}

// Count exhausts the iterator and returns the number of elements.
func (i *Iterator[T]) Count() int {
	n := 0
	i.seq(func(T) bool {
		n++
		return true
	})
	return n
}

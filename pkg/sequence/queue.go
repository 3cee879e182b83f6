package sequence

import "container/heap"

type heapItems[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h *heapItems[T]) Len() int { return len(h.items) }

func (h *heapItems[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *heapItems[T]) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *heapItems[T]) Push(x any) { h.items = append(h.items, x.(T)) }

func (h *heapItems[T]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	var zero T
	old[n-1] = zero // avoid memory leak
	h.items = old[:n-1]
	return item
}

// PriorityQueue pops the element that sorts first under less.
type PriorityQueue[T any] struct {
	h heapItems[T]
}

func NewPriorityQueue[T any](less func(a, b T) bool) *PriorityQueue[T] {
	pq := &PriorityQueue[T]{h: heapItems[T]{less: less}}
	heap.Init(&pq.h)
	return pq
}

func (pq *PriorityQueue[T]) Enqueue(value T) {
	heap.Push(&pq.h, value)
}

func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(&pq.h).(T), true
}

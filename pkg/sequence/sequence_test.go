package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIteratorChain(t *testing.T) {
	it := From([]int{5, 1, 4, 2, 3})

	even := func(v int) bool { return v%2 == 0 }
	assert.Equal(t, []int{4, 2}, it.Filter(even).Collect())
	assert.Equal(t, 5, it.Count())
	assert.True(t, it.Any(even))
	assert.False(t, it.Any(func(v int) bool { return v > 10 }))

	first, ok := it.Filter(even).First()
	assert.True(t, ok)
	assert.Equal(t, 4, first)

	_, ok = From[int](nil).First()
	assert.False(t, ok)

	var seen []int
	for v := range it.Seq() {
		if v == 4 {
			break
		}
		seen = append(seen, v)
	}
	assert.Equal(t, []int{5, 1}, seen)
}

func TestPriorityQueueOrder(t *testing.T) {
	pq := NewPriorityQueue(func(a, b int) bool { return a < b })
	assert.Zero(t, pq.h.Len())

	for _, v := range []int{7, 3, 9, 1} {
		pq.Enqueue(v)
	}
	assert.Equal(t, 4, pq.h.Len())

	var out []int
	for {
		v, ok := pq.Dequeue()
		if !ok {
			break
		}
		out = append(out, v)
	}
	assert.Equal(t, []int{1, 3, 7, 9}, out)
	assert.Zero(t, pq.h.Len())
}

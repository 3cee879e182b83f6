package generic

import "sync"

// Pool is a typed sync.Pool. Values handed to Put are cleared by the reset
// hook first, so nothing stale leaks into the next Get.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
}

// NewPool builds a pool; reset may be nil.
func NewPool[T any](generate func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		pool:  sync.Pool{New: func() any { return generate() }},
		reset: reset,
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		p.reset(value)
	}
	p.pool.Put(value)
}

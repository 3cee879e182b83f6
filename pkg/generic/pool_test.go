package generic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type buffer struct {
	data []byte
}

func TestPoolResetsOnPut(t *testing.T) {
	created := 0
	p := NewPool(func() *buffer {
		created++
		return &buffer{}
	}, func(b *buffer) { b.data = b.data[:0] })

	b := p.Get()
	b.data = append(b.data, "stale"...)
	p.Put(b)
	assert.Empty(t, b.data)

	assert.NotNil(t, p.Get())
	assert.GreaterOrEqual(t, created, 1)
}

func TestPoolWithoutReset(t *testing.T) {
	p := NewPool(func() int { return 7 }, nil)
	p.Put(3)
	v := p.Get()
	assert.Contains(t, []int{3, 7}, v)
}

package model

import (
	"sync"
	"sync/atomic"
)

// Tensor is a float32 buffer handed to a Session. Release it exactly once.
type Tensor struct {
	Shape []int64
	Data  []float32

	once  sync.Once
	owner *Allocator
}

func (t *Tensor) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.Data = nil
		if t.owner != nil {
			t.owner.live.Add(-1)
		}
	})
}

// Allocator hands out tensors and counts the ones not yet released.
type Allocator struct {
	live atomic.Int64
}

func (a *Allocator) NewTensor(shape ...int64) *Tensor {
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	a.live.Add(1)
	return &Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  make([]float32, n),
		owner: a,
	}
}

func (a *Allocator) Live() int64 {
	return a.live.Load()
}

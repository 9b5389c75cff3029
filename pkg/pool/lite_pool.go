// Package pool wraps sync.Pool with type parameters so call sites get
// typed values back without assertions. Values implementing Resettable
// are zeroed before re-entering the pool. The upstream client leans on
// this for request and response buffers that churn per submission.
package pool

import (
	"errors"
	"sync"
)

var (
	errNilConstructor = errors.New("pool: nil constructor")
	errNilValue       = errors.New("pool: constructor produced nil")
)

// Resettable marks pooled types that clear themselves between uses.
type Resettable interface {
	Reset()
}

type Pool[T any] struct {
	pool sync.Pool
}

// NewLitePool builds a typed pool around newFn. The constructor is probed
// once up front; a nil function or a nil first value is rejected here so
// Get never has to re-check.
func NewLitePool[T any](newFn func() T) (*Pool[T], error) {
	if newFn == nil {
		return nil, errNilConstructor
	}
	if probe := newFn(); any(probe) == nil {
		return nil, errNilValue
	}

	p := &Pool[T]{}
	p.pool.New = func() any {
		v := newFn()
		if any(v) == nil {
			panic(errNilValue)
		}
		return v
	}
	return p, nil
}

func (p *Pool[T]) Get() T {
	//nolint:forcetypeassert // New is probed at construction
	return p.pool.Get().(T)
}

// Put resets the value when it knows how, then returns it to the pool.
func (p *Pool[T]) Put(v T) {
	if r, ok := any(v).(Resettable); ok {
		r.Reset()
	}
	p.pool.Put(v)
}

// Package arena provides fixed-capacity object pools addressed by small
// integer handles. A slot is owned by exactly one Lease at a time.
package arena

import (
	"context"
	"sync/atomic"
)

// Handle indexes a slot inside a Pool.
type Handle int

type Pool[T any] struct {
	slots []T
	free  chan Handle
}

// New allocates capacity slots up front using newFn.
func New[T any](capacity int, newFn func(Handle) T) *Pool[T] {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool[T]{
		slots: make([]T, capacity),
		free:  make(chan Handle, capacity),
	}
	for i := range p.slots {
		p.slots[i] = newFn(Handle(i))
		p.free <- Handle(i)
	}
	return p
}

func (p *Pool[T]) Cap() int { return len(p.slots) }

func (p *Pool[T]) Available() int { return len(p.free) }

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	select {
	case h := <-p.free:
		return &Lease[T]{pool: p, handle: h}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire returns immediately; ok is false when the pool is exhausted.
func (p *Pool[T]) TryAcquire() (*Lease[T], bool) {
	select {
	case h := <-p.free:
		return &Lease[T]{pool: p, handle: h}, true
	default:
		return nil, false
	}
}

// With checks out a slot for the duration of fn and returns it on every
// exit path.
func (p *Pool[T]) With(ctx context.Context, fn func(T) error) error {
	l, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn(l.Value())
}

// Lease is the exclusive right to one slot until Release.
type Lease[T any] struct {
	pool     *Pool[T]
	handle   Handle
	released atomic.Bool
}

func (l *Lease[T]) Handle() Handle { return l.handle }

func (l *Lease[T]) Value() T { return l.pool.slots[l.handle] }

// Swap stores v in the leased slot and returns the previous value, moving
// ownership of v into the pool and of the old value to the caller.
func (l *Lease[T]) Swap(v T) T {
	old := l.pool.slots[l.handle]
	l.pool.slots[l.handle] = v
	return old
}

// Release returns the slot. Calling it more than once is a no-op.
func (l *Lease[T]) Release() {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	l.pool.free <- l.handle
}

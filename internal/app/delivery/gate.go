// Package delivery hands completed results to the storage writers in
// sequence order through bounded best-effort queues.
package delivery

import (
	"context"
	"fmt"
	"sync"
)

// Gate lets producers finishing out of order perform their visible action
// strictly in sequence: the producer holding k runs only once every
// sequence number below k has run.
type Gate struct {
	mu      sync.Mutex
	next    uint64
	waiters map[uint64]chan struct{}
}

func NewGate(first uint64) *Gate {
	return &Gate{next: first, waiters: make(map[uint64]chan struct{})}
}

// Next is the sequence number the gate currently admits.
func (g *Gate) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.next
}

// Wait blocks until k is admitted or ctx is done.
func (g *Gate) Wait(ctx context.Context, k uint64) error {
	g.mu.Lock()
	if g.next == k {
		g.mu.Unlock()
		return nil
	}
	if k < g.next {
		next := g.next
		g.mu.Unlock()
		return fmt.Errorf("sequence %d already passed the gate (next %d)", k, next)
	}
	ch, ok := g.waiters[k]
	if !ok {
		ch = make(chan struct{})
		g.waiters[k] = ch
	}
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance admits k+1; k must be the admitted sequence number.
func (g *Gate) advance(k uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next != k {
		return
	}
	g.next++
	if ch, ok := g.waiters[g.next]; ok {
		close(ch)
		delete(g.waiters, g.next)
	}
}

// Do waits for k, runs fn and admits k+1. The gate advances even when fn
// fails so that later producers are not wedged behind a fatal error.
func (g *Gate) Do(ctx context.Context, k uint64, fn func() error) error {
	if err := g.Wait(ctx, k); err != nil {
		return err
	}
	defer g.advance(k)
	return fn()
}

// TryDo runs fn only when k is admitted right now. ran reports whether it
// did; a producer that gets false defers and tries again later.
func (g *Gate) TryDo(k uint64, fn func() error) (ran bool, err error) {
	g.mu.Lock()
	admitted := g.next == k
	g.mu.Unlock()
	if !admitted {
		return false, nil
	}
	defer g.advance(k)
	return true, fn()
}

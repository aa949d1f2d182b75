package planctx

import "context"

// Semaphore is a simple counting semaphore. ParallelPartition acquires one
// slot of the shared pool_capacity semaphore per running child, which also
// covers the child's sequential AdaptiveAggregateScan bisection (Open
// Question (a) in the spec's concurrency model). A nil or zero-capacity
// Semaphore never blocks.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore returns a Semaphore with the given capacity. capacity <= 0
// means unbounded.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(done <-chan struct{}) error {
	if s == nil || s.slots == nil {
		return nil
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-done:
		return context.Canceled
	}
}

// Release returns a slot.
func (s *Semaphore) Release() {
	if s == nil || s.slots == nil {
		return
	}
	<-s.slots
}

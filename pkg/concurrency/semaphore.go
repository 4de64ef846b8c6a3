// Package concurrency provides small primitives for bounding in-flight work
// across the crawler's KVC and fetch pools.
package concurrency

import "context"

// Semaphore is a counting semaphore. Unlike sync.WaitGroup, Acquire can be
// cancelled by a context, which the KVC and fetcher pools rely on to never
// block a worker past its caller's deadline.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore returns a Semaphore with n permits available.
func NewSemaphore(n int) *Semaphore {
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a permit to the pool. Callers must pair every successful
// Acquire with exactly one Release, typically via defer.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
		// Release without a matching Acquire is a programmer error; drop it
		// rather than block or panic.
	}
}

// InUse returns the number of permits currently held.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Capacity returns the total number of permits.
func (s *Semaphore) Capacity() int {
	return cap(s.slots)
}

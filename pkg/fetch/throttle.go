package fetch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrentDownloads bounds simultaneous network fetches unless
// configured otherwise.
const DefaultConcurrentDownloads = 3

// Throttle is a counting semaphore bounding concurrent network downloads.
// Resize swaps in a fresh semaphore; holders of permits from the previous
// one drain against it unaffected.
type Throttle struct {
	mu  sync.Mutex
	sem *semaphore.Weighted
}

// NewThrottle creates a throttle with the given number of permits.
func NewThrottle(permits int) (*Throttle, error) {
	if permits <= 0 {
		return nil, fmt.Errorf("throttle permits must be positive, got %d", permits)
	}
	return &Throttle{sem: semaphore.NewWeighted(int64(permits))}, nil
}

// Acquire blocks until a permit is available or ctx is done. The returned
// release function returns the permit to the semaphore it was taken from.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	t.mu.Lock()
	sem := t.sem
	t.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// Resize replaces the semaphore with one of the new capacity. In-flight
// permits from the old semaphore are allowed to drain.
func (t *Throttle) Resize(permits int) error {
	if permits <= 0 {
		return fmt.Errorf("throttle permits must be positive, got %d", permits)
	}
	t.mu.Lock()
	t.sem = semaphore.NewWeighted(int64(permits))
	t.mu.Unlock()
	return nil
}

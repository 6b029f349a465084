package suspend

import (
	"context"
	"sync"
)

// CountingInhibitor is an in-memory Inhibitor for tests and hardware-less
// development: it just counts acquire/release calls rather than holding a
// real system-bus lock, satisfying the same narrow interface (§4.8
// "Platform backend").
type CountingInhibitor struct {
	mu       sync.Mutex
	Acquired int
	Released int
}

type countingToken struct{ n int }

func (c *CountingInhibitor) Acquire(ctx context.Context) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Acquired++
	return countingToken{n: c.Acquired}, nil
}

func (c *CountingInhibitor) Release(token any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Released++
	return nil
}

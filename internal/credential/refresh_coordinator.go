package credential

import (
	"context"
	"sync"
)

// RefreshCoordinator coalesces concurrent token refresh attempts: the
// first caller runs fn, every caller arriving while that run is in
// flight waits for and shares its result. The settled result is not
// cached; the next call after completion starts a fresh refresh.
type RefreshCoordinator struct {
	mu      sync.Mutex
	current *flight
}

type flight struct {
	done chan struct{}
	err  error
}

// NewRefreshCoordinator returns an idle coordinator.
func NewRefreshCoordinator() *RefreshCoordinator {
	return &RefreshCoordinator{}
}

// Do executes fn, or joins an already-running execution. The returned
// error is fn's error for whichever invocation actually ran, unless ctx
// is done first.
func (c *RefreshCoordinator) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	if f := c.current; f != nil {
		// another goroutine is refreshing; wait for it
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return f.err
		}
	}
	f := &flight{done: make(chan struct{})}
	c.current = f
	c.mu.Unlock()

	f.err = fn(ctx)
	close(f.done)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	return f.err
}

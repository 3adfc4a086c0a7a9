package apiclient

import (
	"context"
	"sync"
)

// RefreshFunc performs the actual network call to the refresh endpoint
// and returns the new access token. It is invoked at most once per
// refresh cycle, no matter how many callers are waiting.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshCoordinator serializes concurrent refresh attempts onto a
// single in-flight call. Callers that arrive while a refresh is in
// progress wait for it and observe the same outcome as the caller that
// started it.
type RefreshCoordinator struct {
	mu       sync.Mutex
	inflight *refreshCall
	do       RefreshFunc
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

func NewRefreshCoordinator(do RefreshFunc) *RefreshCoordinator {
	return &RefreshCoordinator{do: do}
}

// Refresh returns a fresh access token. If a refresh cycle is already
// in flight the caller joins it instead of starting a second one; the
// network call happens exactly once per cycle. After the cycle settles
// (success or failure) the next Refresh starts a brand-new cycle.
func (rc *RefreshCoordinator) Refresh(ctx context.Context) (string, error) {
	rc.mu.Lock()
	if call := rc.inflight; call != nil {
		rc.mu.Unlock()
		return call.wait(ctx)
	}

	call := &refreshCall{done: make(chan struct{})}
	rc.inflight = call
	rc.mu.Unlock()

	call.token, call.err = rc.do(ctx)

	// The cycle is over: clear the in-flight slot before waking the
	// waiters so that any Refresh issued after this point starts a new
	// network call instead of observing a settled one.
	rc.mu.Lock()
	rc.inflight = nil
	rc.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (c *refreshCall) wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.token, c.err
	case <-ctx.Done():
		// The waiting caller gives up; the refresh itself keeps
		// running for everyone else.
		return "", ctx.Err()
	}
}

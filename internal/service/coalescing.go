package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/zip-forecast/internal/models"
)

// coalescedCall is one upstream load shared by every caller of the same key.
type coalescedCall struct {
	done   chan struct{}
	report models.Report
	err    error
}

// requestCoalescer runs at most one load per key at a time; concurrent
// callers for the key wait for that load's result.
type requestCoalescer struct {
	mu      sync.Mutex
	calls   map[string]*coalescedCall
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		calls:   make(map[string]*coalescedCall),
		timeout: timeout,
	}
}

// Do returns the result of fn for key, starting it only if no call for key
// is in flight. shared is true when the caller joined an existing call.
// fn runs detached from the caller's cancellation, bounded by the coalescer
// timeout, so one caller giving up does not fail the others.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.Report, error)) (report models.Report, shared bool, err error) {
	rc.mu.Lock()
	c, shared := rc.calls[key]
	if !shared {
		c = &coalescedCall{done: make(chan struct{})}
		rc.calls[key] = c
		go rc.run(ctx, key, c, fn)
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-c.done:
		return c.report, shared, c.err
	case <-waitCtx.Done():
		return models.Report{}, shared, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, c *coalescedCall, fn func(context.Context) (models.Report, error)) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()
	c.report, c.err = fn(runCtx)

	rc.mu.Lock()
	delete(rc.calls, key)
	rc.mu.Unlock()
	close(c.done)
}

// inFlight returns the number of keys with a call in progress.
func (rc *requestCoalescer) inFlight() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.calls)
}

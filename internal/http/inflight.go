package http

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kjstillabower/zip-forecast/internal/observability"
)

// InFlightTracker counts requests being served so shutdown can drain them.
// When gauge is set it mirrors the count.
type InFlightTracker struct {
	count atomic.Int64
	gauge prometheus.Gauge
}

// NewInFlightTracker returns a tracker that also drives gauge, which may be nil.
func NewInFlightTracker(gauge prometheus.Gauge) *InFlightTracker {
	return &InFlightTracker{gauge: gauge}
}

// Begin marks a request as started. The returned func marks it finished and
// must be called exactly once.
func (t *InFlightTracker) Begin() (done func()) {
	t.count.Add(1)
	if t.gauge != nil {
		t.gauge.Inc()
	}
	var finished atomic.Bool
	return func() {
		if !finished.CompareAndSwap(false, true) {
			return
		}
		t.count.Add(-1)
		if t.gauge != nil {
			t.gauge.Dec()
		}
	}
}

// Count returns the number of unfinished requests.
func (t *InFlightTracker) Count() int64 {
	return t.count.Load()
}

// WaitForZero polls every interval (10ms when <= 0) until no requests remain
// or ctx ends.
func (t *InFlightTracker) WaitForZero(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for t.Count() != 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// requestsInFlight is fed by MetricsMiddleware and drained on shutdown.
var requestsInFlight = NewInFlightTracker(observability.HTTPRequestsInFlight)

// InFlightCount returns the number of requests the router is serving.
func InFlightCount() int64 {
	return requestsInFlight.Count()
}

// WaitForInFlight blocks until the router is idle or ctx ends.
func WaitForInFlight(ctx context.Context, interval time.Duration) error {
	return requestsInFlight.WaitForZero(ctx, interval)
}

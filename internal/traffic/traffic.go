package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished forecast request.
type Outcome int

const (
	// Success is a load that returned a report (fresh, cached or stale).
	Success Outcome = iota
	// Failure is a load that failed for an upstream reason. Caller mistakes
	// (bad zip, bad key, validation) are not recorded.
	Failure
	// Denied is a request rejected by the rate limiter.
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// defaultRetention bounds memory: nothing older than the largest health window is kept.
const defaultRetention = 5 * time.Minute

var defaultTracker = NewTracker(defaultRetention)

// Record records one outcome on the process-wide tracker.
func Record(o Outcome) { defaultTracker.Record(o) }

// RecordSuccess records a successful forecast load.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a failed forecast load.
func RecordError() { defaultTracker.Record(Failure) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns the number of outcomes (success + failure + denied) within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.Count(Denied, window) }

// ErrorRate returns (failures, total) within the window. Denials are excluded from total.
func ErrorRate(window time.Duration) (failures, total int) { return defaultTracker.ErrorRate(window) }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// Tracker keeps per-outcome timestamps in a sliding window. It is the single
// source for overload (RequestCount, DenialCount) and degraded (ErrorRate).
type Tracker struct {
	mu        sync.Mutex
	retention time.Duration
	times     map[Outcome][]time.Time
	now       func() time.Time
}

// NewTracker returns a Tracker that forgets outcomes older than retention.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Tracker{
		retention: retention,
		times:     make(map[Outcome][]time.Time),
		now:       time.Now,
	}
}

// Record appends one outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.RecordN(o, 1)
}

// RecordN appends n outcomes at the current time.
func (t *Tracker) RecordN(o Outcome, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for i := 0; i < n; i++ {
		t.times[o] = append(t.times[o], now)
	}
	t.pruneLocked(now)
}

// Count returns how many o outcomes fall within the window ending now.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

// RequestCount returns the number of outcomes of every kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for _, times := range t.times {
		n += countSince(times, cutoff)
	}
	return n
}

// ErrorRate returns (failures, successes+failures) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (failures, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	failures = countSince(t.times[Failure], cutoff)
	return failures, failures + countSince(t.times[Success], cutoff)
}

// Reset clears every outcome.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = make(map[Outcome][]time.Time)
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than the retention. Timestamps are
// appended in order so a prefix scan suffices.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	for o, times := range t.times {
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}

package overload

import (
	"time"

	"github.com/kjstillabower/zip-forecast/internal/traffic"
)

// Policy describes when the rate-limited path counts as overloaded: more than
// ThresholdPct percent of RPS*Window requests seen within Window.
type Policy struct {
	RPS          int
	Window       time.Duration
	ThresholdPct int
}

// Threshold returns the request count above which the policy trips. Zero RPS disables it.
func (p Policy) Threshold() float64 {
	if p.RPS <= 0 || p.Window <= 0 || p.ThresholdPct <= 0 {
		return 0
	}
	return float64(p.RPS) * p.Window.Seconds() * float64(p.ThresholdPct) / 100
}

// Overloaded reports whether recorded traffic in the window exceeds the threshold.
func (p Policy) Overloaded() bool {
	threshold := p.Threshold()
	if threshold == 0 {
		return false
	}
	return float64(RequestCount(p.Window)) > threshold
}

// RecordDenial records a rate-limit denial (429). Call from middleware when returning 429.
func RecordDenial() {
	traffic.RecordDenied()
}

// RequestCount returns the number of requests (success + error + denied) within the given window.
func RequestCount(window time.Duration) int {
	return traffic.RequestCount(window)
}

// DenialCount returns the number of denials within the given window.
func DenialCount(window time.Duration) int {
	return traffic.DenialCount(window)
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}

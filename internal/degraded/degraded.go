package degraded

import (
	"time"

	"github.com/kjstillabower/zip-forecast/internal/traffic"
)

// RecordSuccess records a forecast load that returned a report.
func RecordSuccess() {
	traffic.RecordSuccess()
}

// RecordError records a forecast load that failed for an upstream reason.
func RecordError() {
	traffic.RecordError()
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return traffic.ErrorRate(window)
}

// Breached reports whether the upstream error rate within window reached pct
// percent. An empty window never breaches. The observed percentage is returned
// for logging.
func Breached(window time.Duration, pct int) (bool, float64) {
	if window <= 0 || pct <= 0 {
		return false, 0
	}
	errs, total := ErrorRate(window)
	if total == 0 {
		return false, 0
	}
	observed := float64(errs) * 100 / float64(total)
	return observed >= float64(pct), observed
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}

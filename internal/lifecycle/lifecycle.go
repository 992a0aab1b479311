package lifecycle

import (
	"sync/atomic"
	"time"
)

// Phase is the process lifecycle position reported by /health.
type Phase int32

const (
	// Starting: listener up, ready delay not yet elapsed (cache warming may be running).
	Starting Phase = iota
	// Ready: serving normally.
	Ready
	// ShuttingDown: draining after SIGTERM/SIGINT or exhausted recovery.
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

func init() {
	phase.Store(int32(Ready))
}

// SetPhase moves the process to p. ShuttingDown is terminal for MarkReady.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// MarkReadyAfter sets Starting now and Ready once d elapses, unless shutdown
// began in between. d <= 0 marks Ready immediately.
func MarkReadyAfter(d time.Duration) {
	if d <= 0 {
		SetPhase(Ready)
		return
	}
	SetPhase(Starting)
	time.AfterFunc(d, func() {
		phase.CompareAndSwap(int32(Starting), int32(Ready))
	})
}

// SetShuttingDown sets or clears the shutdown phase. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	if v {
		SetPhase(ShuttingDown)
		return
	}
	phase.CompareAndSwap(int32(ShuttingDown), int32(Ready))
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return Current() == ShuttingDown
}

package degraded

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ValidateFunc checks whether the upstream is usable again. Returns nil if recovered.
type ValidateFunc func(ctx context.Context) error

// Recoverer re-validates the upstream on a Fibonacci schedule after the
// service has been flagged degraded. A successful attempt clears the error
// window; exhausting the schedule calls OnExhausted.
type Recoverer struct {
	Validate       ValidateFunc
	Initial        time.Duration
	Max            time.Duration
	AttemptTimeout time.Duration
	OnExhausted    func()
	Logger         *zap.Logger

	once    sync.Once
	notify  chan struct{}
	running atomic.Bool
}

func (r *Recoverer) init() {
	r.once.Do(func() {
		r.notify = make(chan struct{}, 1)
		if r.AttemptTimeout <= 0 {
			r.AttemptTimeout = 10 * time.Second
		}
		if r.Logger == nil {
			r.Logger = zap.NewNop()
		}
	})
}

// Notify signals that the service is degraded. Non-blocking; repeated calls
// while a recovery is running are dropped.
func (r *Recoverer) Notify() {
	r.init()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start listens for Notify until ctx is done, running at most one recovery at a time.
func (r *Recoverer) Start(ctx context.Context) {
	r.init()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Running reports whether a recovery sequence is in progress.
func (r *Recoverer) Running() bool {
	return r.running.Load()
}

// Run executes one recovery sequence synchronously. Delays follow the
// Fibonacci series scaled by Initial (1, 2, 3, 5, 8, 13...) up to Max.
// Returns true when validation succeeded.
func (r *Recoverer) Run(ctx context.Context) bool {
	r.init()
	delays := fibDelays(r.Initial, r.Max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, r.AttemptTimeout)
		err := r.Validate(attemptCtx)
		cancel()
		if err == nil {
			r.Logger.Info("upstream recovered", zap.Int("attempt", i+1))
			Reset()
			return true
		}
		r.Logger.Warn("recovery attempt failed", zap.Int("attempt", i+1), zap.Duration("delay", d), zap.Error(err))
	}
	if len(delays) > 0 && r.OnExhausted != nil {
		r.OnExhausted()
	}
	return false
}

func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := int64(1), int64(2); ; a, b = b, a+b {
		d := time.Duration(a) * initial
		if d > max {
			break
		}
		out = append(out, d)
	}
	return out
}

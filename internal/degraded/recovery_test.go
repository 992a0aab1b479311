package degraded

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestFibDelays verifies that fibDelays generates Fibonacci sequence delays
// up to the maximum delay value.
func TestFibDelays(t *testing.T) {
	delays := fibDelays(1*time.Minute, 13*time.Minute)
	want := []time.Duration{1, 2, 3, 5, 8, 13}
	if len(delays) != len(want) {
		t.Fatalf("len(delays) = %d, want %d", len(delays), len(want))
	}
	for i, w := range want {
		expected := time.Duration(w) * time.Minute
		if delays[i] != expected {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], expected)
		}
	}
}

func TestFibDelays_SubSecond(t *testing.T) {
	delays := fibDelays(10*time.Millisecond, 50*time.Millisecond)
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 50 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("fibDelays() = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestFibDelays_Invalid(t *testing.T) {
	if d := fibDelays(0, time.Minute); d != nil {
		t.Errorf("fibDelays(0, 1m) = %v, want nil", d)
	}
	if d := fibDelays(time.Minute, time.Second); d != nil {
		t.Errorf("fibDelays(1m, 1s) = %v, want nil", d)
	}
}

// TestRecoverer_Run_Recovers verifies that Run stops at the first successful
// validation and clears the error window.
func TestRecoverer_Run_Recovers(t *testing.T) {
	Reset()
	RecordError()
	attempts := atomic.Int32{}
	exhausted := atomic.Bool{}
	r := &Recoverer{
		Validate: func(ctx context.Context) error {
			if attempts.Add(1) >= 2 {
				return nil
			}
			return errors.New("fail")
		},
		Initial:     10 * time.Millisecond,
		Max:         100 * time.Millisecond,
		OnExhausted: func() { exhausted.Store(true) },
	}
	if !r.Run(context.Background()) {
		t.Fatal("Run() = false, want true")
	}
	if exhausted.Load() {
		t.Error("OnExhausted should not have been called")
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
	if errs, _ := ErrorRate(time.Minute); errs != 0 {
		t.Errorf("ErrorRate errors after recovery = %d, want 0", errs)
	}
}

// TestRecoverer_Run_Exhausted verifies that OnExhausted runs once every
// scheduled attempt has failed.
func TestRecoverer_Run_Exhausted(t *testing.T) {
	exhausted := atomic.Bool{}
	r := &Recoverer{
		Validate:    func(ctx context.Context) error { return errors.New("always fail") },
		Initial:     5 * time.Millisecond,
		Max:         20 * time.Millisecond,
		OnExhausted: func() { exhausted.Store(true) },
	}
	if r.Run(context.Background()) {
		t.Error("Run() = true, want false")
	}
	if !exhausted.Load() {
		t.Error("OnExhausted should have been called")
	}
}

func TestRecoverer_Run_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := atomic.Bool{}
	r := &Recoverer{
		Validate:    func(ctx context.Context) error { called.Store(true); return nil },
		Initial:     time.Hour,
		Max:         2 * time.Hour,
		OnExhausted: func() { t.Error("OnExhausted called after cancel") },
	}
	if r.Run(ctx) {
		t.Error("Run() = true after cancel, want false")
	}
	if called.Load() {
		t.Error("Validate called after cancel")
	}
}

// TestRecoverer_NotifyStartsRecovery verifies that Notify triggers a
// background run once Start is listening.
func TestRecoverer_NotifyStartsRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var once sync.Once
	r := &Recoverer{
		Validate: func(ctx context.Context) error {
			once.Do(func() { close(done) })
			return nil
		},
		Initial: time.Millisecond,
		Max:     time.Millisecond,
	}
	r.Start(ctx)
	r.Notify()
	r.Notify() // dropped while the first is pending or running

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recovery did not run after Notify")
	}
}

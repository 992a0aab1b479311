package service

import "sync"

// stampedeTracker counts cache misses per key that are being resolved at the
// same time. More than one concurrent miss for a key is a stampede.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// begin records a miss for key and returns the concurrent miss count
// including this one, and a func that ends the miss. end is idempotent.
func (st *stampedeTracker) begin(key string) (count int, end func()) {
	st.mu.Lock()
	st.active[key]++
	count = st.active[key]
	st.mu.Unlock()

	var once sync.Once
	return count, func() {
		once.Do(func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			if st.active[key] <= 1 {
				delete(st.active, key)
				return
			}
			st.active[key]--
		})
	}
}

// activeFor returns the number of misses in progress for key.
func (st *stampedeTracker) activeFor(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}

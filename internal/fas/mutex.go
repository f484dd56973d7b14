package fas

import (
	"sync"

	uberatomic "go.uber.org/atomic"
)

// waitMutex is a mutex that exposes how many goroutines are currently
// parked on Lock, so a long-running holder can cooperatively yield instead
// of starving a waiter (spec.md §9 "Wait-counting mutex"). The count is a
// heuristic: it is incremented before the goroutine blocks and decremented
// once it acquires the lock, so a fast uncontended Lock briefly reports a
// waiter that never actually blocked.
type waitMutex struct {
	mu      sync.Mutex
	waiters uberatomic.Int64
}

func (w *waitMutex) Lock() {
	w.waiters.Inc()
	w.mu.Lock()
	w.waiters.Dec()
}

func (w *waitMutex) Unlock() {
	w.mu.Unlock()
}

func (w *waitMutex) TryLock() bool {
	return w.mu.TryLock()
}

// WaitCount reports the number of goroutines currently trying to acquire
// the lock, including any that will succeed in the next instant.
func (w *waitMutex) WaitCount() int64 {
	return w.waiters.Load()
}

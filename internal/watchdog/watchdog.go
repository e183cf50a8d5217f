// Package watchdog implements the process liveness check from the
// bridge's concurrency model: each execution context must reset its
// watchdog handle at least every interval, and a missed reset terminates
// the process so the supervisor can restart it. Nothing else in the
// bridge is allowed to take the process down (the error-handling policy
// recovers everything locally); lost liveness is the one exception.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// DefaultInterval is the longest either execution context may go without
// resetting its handle.
const DefaultInterval = 30 * time.Second

// Handle is one registered context's reset point. A nil Handle is valid
// and Reset on it is a no-op, so components can run without a watchdog in
// tests.
type Handle struct {
	name string
	last atomic.Int64
}

// Reset marks the owning context as alive.
func (h *Handle) Reset() {
	if h == nil {
		return
	}
	h.last.Store(time.Now().UnixNano())
}

// Watchdog supervises a set of named handles, terminating the process
// when any of them misses its reset window.
type Watchdog struct {
	interval time.Duration

	mu      sync.Mutex
	handles []*Handle

	// fatal is log.Fatalf in production; injectable so tests can observe
	// a missed reset without dying.
	fatal func(format string, args ...interface{})
}

// New creates a Watchdog with the given reset interval.
func New(interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watchdog{
		interval: interval,
		fatal:    log.Fatalf,
	}
}

// Register adds a named context to the watch set. The returned handle
// starts alive; the context must keep calling Reset from then on.
func (w *Watchdog) Register(name string) *Handle {
	h := &Handle{name: name}
	h.Reset()

	w.mu.Lock()
	w.handles = append(w.handles, h)
	w.mu.Unlock()
	return h
}

// Run checks every registered handle at a quarter of the interval until
// stop is closed. A handle whose last reset is older than the interval is
// fatal.
func (w *Watchdog) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(w.interval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	w.mu.Lock()
	handles := append([]*Handle(nil), w.handles...)
	w.mu.Unlock()

	deadline := time.Now().Add(-w.interval).UnixNano()
	for _, h := range handles {
		if h.last.Load() < deadline {
			w.fatal("watchdog: context %q missed its reset window, restarting", h.name)
		}
	}
}

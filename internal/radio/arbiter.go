package radio

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultAcquireTimeout is the arbiter's default acquisition timeout.
const DefaultAcquireTimeout = 5 * time.Second

// Arbiter is the single mutex guarding the radio. It is implemented as
// a 1-buffered channel semaphore rather than sync.Mutex so that Acquire
// can honor a caller-specified timeout instead of blocking indefinitely;
// sync.Mutex has no TryLock-with-timeout primitive.
type Arbiter struct {
	radio Radio
	sem   chan struct{}
}

// NewArbiter wraps radio with a single-holder, timeout-bound lock.
func NewArbiter(r Radio) *Arbiter {
	a := &Arbiter{
		radio: r,
		sem:   make(chan struct{}, 1),
	}
	a.sem <- struct{}{}
	return a
}

// Handle is held by the arbiter's current owner. Release must be called
// exactly once to hand the radio back.
type Handle struct {
	arbiter *Arbiter
	Radio   Radio
}

// Release returns the radio to the arbiter. Callers are expected to
// leave the radio in continuous-receive mode before releasing unless
// they know another acquisition will immediately take over; the arbiter
// does not enforce this structurally, it only serializes access.
func (h Handle) Release() {
	h.arbiter.sem <- struct{}{}
}

// Acquire blocks until the radio is available or timeout elapses.
// Acquisition order is irrelevant: the arbiter is the only lock in the radio
// subsystem, so there is no nested-locking deadlock to order around.
func (a *Arbiter) Acquire(timeout time.Duration) (Handle, error) {
	select {
	case <-a.sem:
		return Handle{arbiter: a, Radio: a.radio}, nil
	case <-time.After(timeout):
		log.Warn("radio: arbiter acquisition timed out")
		return Handle{}, errors.Wrap(ErrBusy, "radio arbiter")
	}
}

// State reports the radio's current state without acquiring the arbiter.
// Safe to call concurrently: State() is only ever read, never written,
// by non-holders.
func (a *Arbiter) State() State {
	return a.radio.State()
}

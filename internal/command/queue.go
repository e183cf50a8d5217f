// Package command implements the bounded, coalescing command queue and
// its opportunistic-retry transmission path.
package command

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

// DefaultCapacity and DefaultExpiration are the queue's tunables.
const (
	DefaultCapacity   = 10
	DefaultExpiration = 5 * time.Minute
	retryQuietPeriod  = 50 * time.Millisecond
)

// Entry is one queued command awaiting opportunistic delivery.
type Entry struct {
	Target      protocol.DeviceID
	Type        byte
	Params      []byte
	Retries     int
	EnqueueTime time.Time
}

// Sender transmits a command frame through the radio arbiter. Implemented
// by *Transmitter (send.go); an interface here so the queue's retry logic
// is independently testable from arbiter/radio mechanics.
type Sender interface {
	Send(target protocol.DeviceID, cmdType byte, params []byte) error
}

// Queue is the bounded FIFO of commands awaiting delivery. order is
// maintained alongside the map so FIFO semantics survive coalescing
// without needing a linked list.
type Queue struct {
	mu       sync.Mutex
	capacity int
	order    []key
	entries  map[key]*Entry
	sender   Sender
	now      func() time.Time
}

type key struct {
	target protocol.DeviceID
	typ    byte
}

// New creates a Queue bounded to capacity entries, transmitting through
// sender.
func New(capacity int, sender Sender) *Queue {
	return &Queue{
		capacity: capacity,
		entries:  make(map[key]*Entry),
		sender:   sender,
		now:      time.Now,
	}
}

// Enqueue adds or coalesces a command. If an entry already exists for
// (target, type) its parameters are updated, its retry counter reset,
// and its timestamp refreshed, giving most-recent-wins semantics to
// rapid parameter updates (e.g. two set_interval commands within a
// second). Otherwise a new entry is
// appended if capacity allows. On success, one immediate transmission is
// attempted eagerly; its failure is swallowed, since the retry loop will
// pick the entry back up on the device's next transmission.
func (q *Queue) Enqueue(target protocol.DeviceID, cmdType byte, params []byte) error {
	q.mu.Lock()
	k := key{target, cmdType}
	entry, existed := q.entries[k]
	if existed {
		// A fresh *Entry rather than an in-place update, so that
		// removeIfUnretried can tell this newer request apart from one an
		// earlier, still in-flight eager send is about to remove.
		entry = &Entry{Target: target, Type: cmdType, Params: params, EnqueueTime: q.now()}
		q.entries[k] = entry
	} else {
		if q.capacity > 0 && len(q.entries) >= q.capacity {
			q.mu.Unlock()
			return ErrQueueFull
		}
		entry = &Entry{Target: target, Type: cmdType, Params: params, EnqueueTime: q.now()}
		q.entries[k] = entry
		q.order = append(q.order, k)
	}
	q.mu.Unlock()

	if err := q.sender.Send(target, cmdType, params); err != nil {
		log.WithFields(log.Fields{
			"device_id": target.String(),
			"cmd_type":  cmdType,
		}).WithError(err).Debug("command: eager transmit failed, will retry opportunistically")
	} else {
		q.removeIfUnretried(k, entry)
	}
	return nil
}

// removeIfUnretried drops the entry after a successful eager send, unless
// it was concurrently coalesced into a newer request.
func (q *Queue) removeIfUnretried(k key, sent *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if current, ok := q.entries[k]; ok && current == sent {
		q.deleteLocked(k)
	}
}

// ExpireOlderThan removes entries whose enqueue time is window or more in
// the past.
func (q *Queue) ExpireOlderThan(window time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expireLocked(window)
}

func (q *Queue) expireLocked(window time.Duration) {
	cutoff := q.now().Add(-window)
	var expired []key
	for _, k := range q.order {
		if entry, ok := q.entries[k]; ok && !entry.EnqueueTime.After(cutoff) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		q.deleteLocked(k)
	}
}

func (q *Queue) deleteLocked(k key) {
	delete(q.entries, k)
	for i, o := range q.order {
		if o == k {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// RetryFor first expires stale entries, then attempts transmission for
// every remaining entry targeting target, with a quiet period between
// consecutive retries to avoid radio back-pressure. This is the sole
// retry trigger in the system: there is no background clock, which would
// risk colliding with the sensor's own transmit window.
func (q *Queue) RetryFor(target protocol.DeviceID) {
	q.mu.Lock()
	q.expireLocked(DefaultExpiration)
	var toRetry []*Entry
	for _, k := range q.order {
		if k.target == target {
			toRetry = append(toRetry, q.entries[k])
		}
	}
	q.mu.Unlock()

	for i, entry := range toRetry {
		if i > 0 {
			time.Sleep(retryQuietPeriod)
		}
		q.mu.Lock()
		entry.Retries++
		q.mu.Unlock()

		err := q.sender.Send(entry.Target, entry.Type, entry.Params)
		if err == nil {
			q.mu.Lock()
			q.deleteLocked(key{entry.Target, entry.Type})
			q.mu.Unlock()
		} else {
			log.WithFields(log.Fields{
				"device_id": entry.Target.String(),
				"retries":   entry.Retries,
			}).WithError(err).Debug("command: retry transmit failed, leaving entry queued")
		}
	}
}

// Len reports the number of queued commands across all devices.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SnapshotFor returns a copy of the entries queued for target, for the
// admin surface to display pending commands and retry counts.
func (q *Queue) SnapshotFor(target protocol.DeviceID) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Entry
	for _, k := range q.order {
		if k.target == target {
			out = append(out, *q.entries[k])
		}
	}
	return out
}

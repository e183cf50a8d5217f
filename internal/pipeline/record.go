// Package pipeline implements the decoded-record queue and the receive and
// publish/command execution loops that move frames from the radio to the
// broker and back.
package pipeline

import (
	"time"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

// DecodedRecord is a frame that has passed the codec and dedup checks,
// queued for translation and publish.
type DecodedRecord struct {
	Header    protocol.Header
	Payload   []byte
	RSSI      int8
	SNR       int8
	ReceiveAt time.Time
}

// Queue is a bounded multi-producer/single-consumer channel with a
// drop-newest overflow policy: when full, a new record is discarded
// rather than blocking the receive context.
type Queue struct {
	ch chan DecodedRecord
}

// NewQueue creates a Queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan DecodedRecord, capacity)}
}

// TryEnqueue attempts to enqueue rec within timeout. Returns false if the
// queue was full for the whole timeout window (drop-newest: rec itself is
// discarded, not an existing entry).
func (q *Queue) TryEnqueue(rec DecodedRecord, timeout time.Duration) bool {
	select {
	case q.ch <- rec:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Dequeue blocks up to timeout for the next record. ok is false on
// timeout.
func (q *Queue) Dequeue(timeout time.Duration) (rec DecodedRecord, ok bool) {
	select {
	case rec = <-q.ch:
		return rec, true
	case <-time.After(timeout):
		return DecodedRecord{}, false
	}
}

package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

const testTarget protocol.DeviceID = 0xAABBCCDDEEFF0011

// fakeSender is a Sender stub letting tests control per-call success and
// record invocations, independent of radio/arbiter mechanics.
type fakeSender struct {
	calls   int
	fail    bool
	lastCmd byte
	lastP   []byte
}

func (f *fakeSender) Send(target protocol.DeviceID, cmdType byte, params []byte) error {
	f.calls++
	f.lastCmd = cmdType
	f.lastP = params
	if f.fail {
		return assert.AnError
	}
	return nil
}

func TestEnqueueCoalescesSameTargetAndType(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)

	require.NoError(t, q.Enqueue(testTarget, 0x07, []byte("90")))
	require.NoError(t, q.Enqueue(testTarget, 0x07, []byte("120")))

	entries := q.SnapshotFor(testTarget)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("120"), entries[0].Params)
	assert.Equal(t, 0, entries[0].Retries)
}

func TestEnqueueEagerSendRemovesEntryOnSuccess(t *testing.T) {
	sender := &fakeSender{}
	q := New(DefaultCapacity, sender)

	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))
	assert.Empty(t, q.SnapshotFor(testTarget))
	assert.Equal(t, 1, sender.calls)
}

func TestEnqueueEagerSendFailureLeavesEntryQueued(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)

	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))
	entries := q.SnapshotFor(testTarget)
	require.Len(t, entries, 1)
}

func TestEnqueueFullQueueRejectsNewEntry(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(1, sender)

	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))
	err := q.Enqueue(protocol.DeviceID(2), 0x04, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRetryForRemovesEntryOnSuccess(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)
	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))
	require.Len(t, q.SnapshotFor(testTarget), 1)

	sender.fail = false
	q.RetryFor(testTarget)
	assert.Empty(t, q.SnapshotFor(testTarget))
}

func TestRetryForIncrementsRetriesOnFailure(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)
	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))

	q.RetryFor(testTarget)
	entries := q.SnapshotFor(testTarget)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Retries)
}

func TestCommandExpirationScenario(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)
	fixed := time.Unix(0, 0)
	q.now = func() time.Time { return fixed }

	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))

	q.now = func() time.Time { return fixed.Add(DefaultExpiration) }
	q.RetryFor(testTarget)
	assert.Empty(t, q.SnapshotFor(testTarget))
}

func TestCoalesceStillSucceedsAtCapacity(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(1, sender)

	require.NoError(t, q.Enqueue(testTarget, 0x07, []byte("90")))
	// The queue is full, but re-enqueuing the same (target, type) pair
	// coalesces instead of failing.
	require.NoError(t, q.Enqueue(testTarget, 0x07, []byte("120")))

	entries := q.SnapshotFor(testTarget)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("120"), entries[0].Params)
}

func TestExpireRemovesAllStaleEntries(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)
	fixed := time.Unix(0, 0)
	q.now = func() time.Time { return fixed }

	// Three stale entries in a row; all must go in a single expiry pass.
	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))
	require.NoError(t, q.Enqueue(testTarget, 0x05, nil))
	require.NoError(t, q.Enqueue(testTarget, 0x01, nil))

	q.now = func() time.Time { return fixed.Add(DefaultExpiration + time.Second) }
	q.ExpireOlderThan(DefaultExpiration)
	assert.Empty(t, q.SnapshotFor(testTarget))
	assert.Zero(t, q.Len())
}

func TestExpireKeepsFreshEntries(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)
	fixed := time.Unix(0, 0)
	q.now = func() time.Time { return fixed }

	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))

	q.now = func() time.Time { return fixed.Add(time.Minute) }
	require.NoError(t, q.Enqueue(testTarget, 0x05, nil))

	q.now = func() time.Time { return fixed.Add(DefaultExpiration + time.Second) }
	q.ExpireOlderThan(DefaultExpiration)

	entries := q.SnapshotFor(testTarget)
	require.Len(t, entries, 1)
	assert.Equal(t, byte(0x05), entries[0].Type)
}

func TestRetryForOnlyTouchesMatchingTarget(t *testing.T) {
	sender := &fakeSender{fail: true}
	q := New(DefaultCapacity, sender)
	other := protocol.DeviceID(0x22)

	require.NoError(t, q.Enqueue(testTarget, 0x04, nil))
	require.NoError(t, q.Enqueue(other, 0x04, nil))
	sender.calls = 0

	sender.fail = false
	q.RetryFor(testTarget)

	assert.Equal(t, 1, sender.calls)
	assert.Empty(t, q.SnapshotFor(testTarget))
	assert.Len(t, q.SnapshotFor(other), 1)
}

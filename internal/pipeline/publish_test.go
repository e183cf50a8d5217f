package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lora-sensor-bridge/internal/command"
	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
	"github.com/brocaar/lora-sensor-bridge/internal/registry"
	"github.com/brocaar/lora-sensor-bridge/internal/translate"
)

// fakeBroker is an in-memory BrokerClient recording every publish, so the
// publish path can be tested without a live MQTT connection.
type fakeBroker struct {
	connected   bool
	readings    []any
	statuses    []any
	events      []any
	acks        []any
	publishFail bool
}

func (f *fakeBroker) IsConnected() bool { return f.connected }
func (f *fakeBroker) Reconnect() error { f.connected = true; return nil }
func (f *fakeBroker) PublishReadings(hexID string, msg any) error {
	if f.publishFail {
		return assert.AnError
	}
	f.readings = append(f.readings, msg)
	return nil
}
func (f *fakeBroker) PublishStatus(hexID string, msg any) error {
	f.statuses = append(f.statuses, msg)
	return nil
}
func (f *fakeBroker) PublishEvent(hexID string, msg any) error {
	f.events = append(f.events, msg)
	return nil
}
func (f *fakeBroker) PublishAck(msg any) error {
	f.acks = append(f.acks, msg)
	return nil
}

// failingSender always fails, so enqueued commands stay queued and are
// observable via SnapshotFor.
type failingSender struct{}

func (failingSender) Send(protocol.DeviceID, byte, []byte) error { return assert.AnError }

func TestHandleReadingsPublishesAndUpdatesRegistry(t *testing.T) {
	broker := &fakeBroker{connected: true}
	reg := registry.New(10, 0, nil)
	cmds := command.New(command.DefaultCapacity, failingSender{})
	pub := NewPublisher(broker, reg, NewQueue(4), cmds, nil, nil, nil)

	payload := protocol.ReadingsPayload{PressureCenti: 101325, TemperatureCentiDeg: 2531}.Encode()
	pub.handleReadings(DecodedRecord{
		Header:  protocol.Header{DeviceID: testDeviceID, Sequence: 1},
		Payload: payload,
	})

	require.Len(t, broker.readings, 1)
	msg := broker.readings[0].(translate.ReadingsMessage)
	assert.InDelta(t, 1013.25, msg.Pressure, 0.001)

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, registry.SensorEnvironmentalMulti, snap[0].SensorKind)
}

func TestHandleEventStartupClearsDedup(t *testing.T) {
	broker := &fakeBroker{connected: true}
	reg := registry.New(10, 0, nil)
	cmds := command.New(command.DefaultCapacity, failingSender{})
	pub := NewPublisher(broker, reg, NewQueue(4), cmds, nil, nil, nil)

	reg.Observe(testDeviceID, 7, 0, 0, time.Now())
	require.True(t, reg.IsDuplicate(testDeviceID, 7))

	eventPayload := []byte{protocol.EventStartup, 0, 0}
	pub.handleEvent(DecodedRecord{
		Header:  protocol.Header{DeviceID: testDeviceID},
		Payload: eventPayload,
	})

	assert.False(t, reg.IsDuplicate(testDeviceID, 7))
	require.Len(t, broker.events, 1)
}

func TestHandleCommandEnqueuesAndAcks(t *testing.T) {
	broker := &fakeBroker{connected: true}
	reg := registry.New(10, 0, nil)
	cmds := command.New(command.DefaultCapacity, failingSender{})
	pub := NewPublisher(broker, reg, NewQueue(4), cmds, nil, nil, nil)

	raw := []byte(`{"device_id":"AABBCCDDEEFF0011","action":"set_interval","value":120}`)
	pub.HandleCommand(raw)

	require.Len(t, broker.acks, 1)
	ack := broker.acks[0].(translate.CommandAck)
	assert.Equal(t, "queued", ack.Status)

	entries := cmds.SnapshotFor(testDeviceID)
	require.Len(t, entries, 1)
	assert.Equal(t, []byte("120"), entries[0].Params)
}

func TestHandleCommandRejectsInvalidJSON(t *testing.T) {
	broker := &fakeBroker{connected: true}
	reg := registry.New(10, 0, nil)
	cmds := command.New(command.DefaultCapacity, failingSender{})
	pub := NewPublisher(broker, reg, NewQueue(4), cmds, nil, nil, nil)

	pub.HandleCommand([]byte("not json"))
	assert.Empty(t, broker.acks)
}

// recordingSender fails while fail is set and records successful sends,
// letting tests flip the radio from unavailable to available mid-scenario.
type recordingSender struct {
	mu   sync.Mutex
	fail bool
	sent []byte
}

func (r *recordingSender) Send(target protocol.DeviceID, cmdType byte, params []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return assert.AnError
	}
	r.sent = append(r.sent, cmdType)
	return nil
}

func (r *recordingSender) setFail(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = v
}

func TestOpportunisticCommandDelivery(t *testing.T) {
	broker := &fakeBroker{connected: true}
	reg := registry.New(10, 0, nil)
	sender := &recordingSender{fail: true}
	cmds := command.New(command.DefaultCapacity, sender)
	pub := NewPublisher(broker, reg, NewQueue(4), cmds, nil, nil, nil)
	pub.retryDelay = 0

	// The eager transmit fails, so the command stays queued.
	require.NoError(t, cmds.Enqueue(testDeviceID, 0x04, nil))
	require.Len(t, cmds.SnapshotFor(testDeviceID), 1)

	// Traffic from the device opens its RX window; the retry succeeds and
	// the entry is removed.
	sender.setFail(false)
	pub.handleRecord(DecodedRecord{
		Header:  protocol.Header{Type: protocol.MsgReadings, DeviceID: testDeviceID, Sequence: 1},
		Payload: protocol.ReadingsPayload{}.Encode(),
	})

	assert.Empty(t, cmds.SnapshotFor(testDeviceID))
}

func TestOpportunisticDeliveryFailureLeavesCommandQueued(t *testing.T) {
	broker := &fakeBroker{connected: true}
	reg := registry.New(10, 0, nil)
	sender := &recordingSender{fail: true}
	cmds := command.New(command.DefaultCapacity, sender)
	pub := NewPublisher(broker, reg, NewQueue(4), cmds, nil, nil, nil)
	pub.retryDelay = 0

	require.NoError(t, cmds.Enqueue(testDeviceID, 0x04, nil))

	pub.handleRecord(DecodedRecord{
		Header:  protocol.Header{Type: protocol.MsgReadings, DeviceID: testDeviceID, Sequence: 1},
		Payload: protocol.ReadingsPayload{}.Encode(),
	})

	entries := cmds.SnapshotFor(testDeviceID)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Retries)
}

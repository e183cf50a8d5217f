package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
	"github.com/brocaar/lora-sensor-bridge/internal/radio"
)

func TestTransmitterSendBuildsCommandFrame(t *testing.T) {
	fake := radio.NewFakeRadio(1)
	require.NoError(t, fake.Begin())
	require.NoError(t, fake.StartReceive())

	arbiter := radio.NewArbiter(fake)
	tx := NewTransmitter(arbiter)

	err := tx.Send(testTarget, 0x07, []byte("120"))
	require.NoError(t, err)
	require.Len(t, fake.Sent, 1)

	frame, err := protocol.Decode(fake.Sent[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgCommand, frame.Header.Type)
	assert.Equal(t, testTarget, frame.Header.DeviceID)

	cmd, err := protocol.DecodeCommand(frame.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 0x07, cmd.CommandType)
	assert.Equal(t, []byte("120"), cmd.Params)

	assert.Equal(t, radio.StateRX, fake.State())
}

func TestTransmitterSendBusyLineTimesOut(t *testing.T) {
	fake := radio.NewFakeRadio(1)
	fake.BusyLineStuck = true
	arbiter := radio.NewArbiter(fake)
	tx := NewTransmitter(arbiter)

	err := tx.Send(testTarget, 0x04, nil)
	assert.ErrorIs(t, err, radio.ErrBusyLine)
	assert.Equal(t, radio.StateRX, fake.State())
}

package radio

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

func TestNetRadioTransmitWritesFrameBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	n := NewNetRadio(ln.Addr().String(), 4)
	require.NoError(t, n.Begin())
	defer n.Close()

	server := <-accepted
	defer server.Close()

	frame, err := protocol.Encode(protocol.Header{Type: protocol.MsgCommand, DeviceID: 1, Sequence: 1}, []byte{0x07, 0x02, '9', '0'})
	require.NoError(t, err)

	require.NoError(t, n.Transmit(frame))

	got := make([]byte, len(frame))
	server.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(server, got)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestNetRadioReadLoopDeliversFramesWithSidebandRSSISNR(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c
	}()

	n := NewNetRadio(ln.Addr().String(), 4)
	require.NoError(t, n.Begin())
	defer n.Close()
	require.NoError(t, n.StartReceive())

	server := <-accepted
	defer server.Close()

	frame, err := protocol.Encode(protocol.Header{Type: protocol.MsgReadings, DeviceID: 2, Sequence: 9}, make([]byte, 20))
	require.NoError(t, err)

	rssi := int8(-42)
	_, err = server.Write(append(frame, byte(rssi), byte(int8(7))))
	require.NoError(t, err)

	select {
	case rx := <-n.RXChan():
		assert.Equal(t, frame, rx.Data)
		assert.EqualValues(t, -42, rx.RSSI)
		assert.EqualValues(t, 7, rx.SNR)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivered frame")
	}
}

func TestNetRadioWaitBusyClearIsNoop(t *testing.T) {
	n := NewNetRadio("127.0.0.1:0", 1)
	assert.NoError(t, n.WaitBusyClear(time.Millisecond))
}

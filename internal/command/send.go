package command

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
	"github.com/brocaar/lora-sensor-bridge/internal/radio"
)

const (
	arbiterTimeout    = 5 * time.Second
	busyLineTimeout   = 1 * time.Second
	postTransmitPause = 10 * time.Millisecond
)

// Transmitter implements Sender by driving the radio arbiter through
// the transmission path: acquire, standby, wait for the BUSY line, build
// and send a COMMAND frame, then restart receive and release regardless
// of outcome.
type Transmitter struct {
	arbiter *radio.Arbiter
	seq     uint32 // atomic; wraps naturally at uint16 truncation below
}

// NewTransmitter returns a Transmitter sending commands through arbiter.
func NewTransmitter(arbiter *radio.Arbiter) *Transmitter {
	return &Transmitter{arbiter: arbiter}
}

// Send builds a COMMAND frame for target and transmits it through the
// arbiter, always leaving the radio back in receive mode before returning.
func (t *Transmitter) Send(target protocol.DeviceID, cmdType byte, params []byte) error {
	handle, err := t.arbiter.Acquire(arbiterTimeout)
	if err != nil {
		return errors.Wrap(err, "command: acquire arbiter")
	}
	defer handle.Release()

	if err := handle.Radio.Standby(); err != nil {
		_ = handle.Radio.StartReceive()
		return errors.Wrap(err, "command: radio standby")
	}

	if err := handle.Radio.WaitBusyClear(busyLineTimeout); err != nil {
		_ = handle.Radio.StartReceive()
		return errors.Wrap(err, "command: radio busy")
	}

	seq := uint16(atomic.AddUint32(&t.seq, 1))
	payload := protocol.CommandPayload{CommandType: cmdType, Params: params}.Encode()
	raw, err := protocol.Encode(protocol.Header{
		Type:     protocol.MsgCommand,
		DeviceID: target,
		Sequence: seq,
	}, payload)
	if err != nil {
		_ = handle.Radio.StartReceive()
		return errors.Wrap(err, "command: encode frame")
	}

	sendErr := handle.Radio.Transmit(raw)
	time.Sleep(postTransmitPause)
	_ = handle.Radio.StartReceive()

	if sendErr != nil {
		return errors.Wrap(sendErr, "command: transmit")
	}
	return nil
}

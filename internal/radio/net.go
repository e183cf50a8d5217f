package radio

import (
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

// DialTimeout bounds how long Begin's connect attempt may take.
const DialTimeout = 5 * time.Second

// NetRadio implements Radio over a long-lived stream connection to the
// gateway's radio-attached microcontroller, e.g. a UART-to-TCP bridge
// sitting in front of the actual LoRa transceiver. The chip-level
// SPI/register driver behind that connection is an external
// collaborator; NetRadio only speaks already-framed bytes over whatever
// stream reaches it, plus two sideband bytes (RSSI, SNR) the
// microcontroller appends after every frame it forwards.
type NetRadio struct {
	addr string

	mu    sync.Mutex
	conn  net.Conn
	state State
	rx    chan RXFrame

	readOnce sync.Once
}

// NewNetRadio returns a NetRadio that will dial addr (accepts an optional
// "tcp://" scheme prefix, stripped before net.Dial) on Begin. rxBuffer
// sizes the channel returned by RXChan.
func NewNetRadio(addr string, rxBuffer int) *NetRadio {
	return &NetRadio{
		addr:  strings.TrimPrefix(addr, "tcp://"),
		state: StateInit,
		rx:    make(chan RXFrame, rxBuffer),
	}
}

// Begin dials the configured address and transitions to STANDBY.
func (n *NetRadio) Begin() error {
	conn, err := net.DialTimeout("tcp", n.addr, DialTimeout)
	if err != nil {
		return errors.Wrap(err, "radio: dial")
	}

	n.mu.Lock()
	n.conn = conn
	n.state = StateStandby
	n.mu.Unlock()
	return nil
}

// StartReceive transitions to RX. The background reader goroutine that
// feeds RXChan is started lazily, once, on first call: frames that arrive
// while the caller is in STANDBY or TX_BUSY are still read off the wire
// (TCP is full-duplex and doesn't stop delivering bytes just because this
// side isn't "listening") and simply queue in the buffered channel for
// whenever the receive pipeline next drains it.
func (n *NetRadio) StartReceive() error {
	n.mu.Lock()
	n.state = StateRX
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		return errors.New("radio: StartReceive before Begin")
	}

	n.readOnce.Do(func() { go n.readLoop(conn) })
	return nil
}

// Standby halts the externally observable RX state. The reader goroutine
// itself is not paused (see StartReceive's comment); only the arbiter's
// bookkeeping of "are we allowed to act on what arrives" changes.
func (n *NetRadio) Standby() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = StateStandby
	return nil
}

// WaitBusyClear is a no-op for a stream transport: there is no hardware
// BUSY line behind a TCP connection, so the line is always already clear.
func (n *NetRadio) WaitBusyClear(timeout time.Duration) error {
	return nil
}

// Transmit writes the frame to the connection and waits for the write to
// complete before returning.
func (n *NetRadio) Transmit(data []byte) error {
	n.mu.Lock()
	n.state = StateTXBusy
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		return errors.New("radio: Transmit before Begin")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write(data)

	n.mu.Lock()
	n.state = StateStandby
	n.mu.Unlock()

	if err != nil {
		return errors.Wrap(err, "radio: transmit")
	}
	return nil
}

// RXChan returns the channel fed by the background reader.
func (n *NetRadio) RXChan() <-chan RXFrame {
	return n.rx
}

// State reports the radio's current externally observable state.
func (n *NetRadio) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Close tears down the underlying connection; the reader goroutine exits
// on its next read error.
func (n *NetRadio) Close() error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// readLoop decodes length-framed records off conn: header bytes first
// (their payload-length byte gives the remainder of the frame), then two
// sideband link-quality bytes (RSSI, SNR) the microcontroller appends
// after every forwarded frame. It exits on the first read error, which is
// the expected outcome of Close().
func (n *NetRadio) readLoop(conn net.Conn) {
	header := make([]byte, protocol.HeaderSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			log.WithError(err).Debug("radio: connection closed, reader exiting")
			return
		}

		payloadLen := int(header[14])
		body := make([]byte, payloadLen+2) // +2 for the RSSI/SNR sideband bytes
		if _, err := io.ReadFull(conn, body); err != nil {
			log.WithError(err).Debug("radio: connection closed mid-frame, reader exiting")
			return
		}

		full := make([]byte, 0, len(header)+payloadLen)
		full = append(full, header...)
		full = append(full, body[:payloadLen]...)

		frame := RXFrame{
			Data: full,
			RSSI: int8(body[payloadLen]),
			SNR:  int8(body[payloadLen+1]),
		}

		select {
		case n.rx <- frame:
		default:
			log.Warn("radio: rx buffer full, dropping frame at the transport layer")
		}
	}
}

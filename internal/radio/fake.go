package radio

import (
	"sync"
	"time"
)

// FakeRadio is an in-memory Radio for pipeline/command tests, so the
// higher layers can be exercised without real hardware I/O.
type FakeRadio struct {
	mu    sync.Mutex
	state State
	rx    chan RXFrame

	// Sent records every Transmit call's payload, for assertions.
	Sent [][]byte
	// TransmitErr, if set, is returned by the next Transmit call and then
	// cleared.
	TransmitErr error
	// BusyLineStuck makes WaitBusyClear always time out.
	BusyLineStuck bool
}

// NewFakeRadio returns a FakeRadio in the INIT state with the given RX
// channel buffer size.
func NewFakeRadio(rxBuffer int) *FakeRadio {
	return &FakeRadio{
		state: StateInit,
		rx:    make(chan RXFrame, rxBuffer),
	}
}

func (f *FakeRadio) Begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateStandby
	return nil
}

func (f *FakeRadio) StartReceive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateRX
	return nil
}

func (f *FakeRadio) Standby() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateStandby
	return nil
}

func (f *FakeRadio) WaitBusyClear(timeout time.Duration) error {
	if f.BusyLineStuck {
		return ErrBusyLine
	}
	return nil
}

func (f *FakeRadio) Transmit(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = StateTXBusy
	if f.TransmitErr != nil {
		err := f.TransmitErr
		f.TransmitErr = nil
		f.state = StateStandby
		return err
	}
	f.Sent = append(f.Sent, append([]byte(nil), data...))
	f.state = StateStandby
	return nil
}

func (f *FakeRadio) RXChan() <-chan RXFrame {
	return f.rx
}

// Deliver injects a frame as if it had arrived over the air, for tests
// driving the receive pipeline.
func (f *FakeRadio) Deliver(frame RXFrame) {
	f.rx <- frame
}

func (f *FakeRadio) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *FakeRadio) Close() error {
	return nil
}

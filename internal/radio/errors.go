package radio

import "errors"

var (
	// ErrBusy is returned by Acquire when the arbiter could not be claimed
	// within the caller's timeout.
	ErrBusy = errors.New("radio: arbiter busy, acquire timed out")
	// ErrBusyLine is returned when the radio's BUSY line fails to clear
	// within the expected window before a transmit.
	ErrBusyLine = errors.New("radio: busy line did not clear in time")
)

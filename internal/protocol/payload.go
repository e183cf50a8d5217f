package protocol

import "encoding/binary"

// PressureTrend is the reported short-term barometric trend.
type PressureTrend byte

const (
	TrendFalling PressureTrend = 0
	TrendSteady  PressureTrend = 1
	TrendRising  PressureTrend = 2
)

func (t PressureTrend) String() string {
	switch t {
	case TrendFalling:
		return "falling"
	case TrendRising:
		return "rising"
	default:
		return "steady"
	}
}

// EventSeverity is the severity level carried by an Event payload.
type EventSeverity byte

const (
	SeverityInfo EventSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s EventSeverity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// EventStartup is the event-type value that signals a device boot; it is
// the trigger for clearing that device's dedup ring.
const EventStartup byte = 0x01

// ReadingsPayload carries a single set of environmental measurements.
// Fixed size: 20 bytes.
type ReadingsPayload struct {
	TemperatureCentiDeg  int16
	HumidityCentiPercent uint16
	PressureCenti        uint32
	Altitude             int16
	BatteryMilliVolts    uint16
	BatteryPercent       uint8
	PressureChange       int16
	PressureTrend        PressureTrend
	SourceTimestamp      uint32
}

const readingsPayloadSize = 20

// DecodeReadings decodes a Readings payload. Fails with
// ErrPayloadSizeMismatch if the length is not exactly readingsPayloadSize.
func DecodeReadings(payload []byte) (ReadingsPayload, error) {
	if len(payload) != readingsPayloadSize {
		return ReadingsPayload{}, ErrPayloadSizeMismatch
	}
	return ReadingsPayload{
		TemperatureCentiDeg:  int16(binary.LittleEndian.Uint16(payload[0:2])),
		HumidityCentiPercent: binary.LittleEndian.Uint16(payload[2:4]),
		PressureCenti:        binary.LittleEndian.Uint32(payload[4:8]),
		Altitude:             int16(binary.LittleEndian.Uint16(payload[8:10])),
		BatteryMilliVolts:    binary.LittleEndian.Uint16(payload[10:12]),
		BatteryPercent:       payload[12],
		PressureChange:       int16(binary.LittleEndian.Uint16(payload[13:15])),
		PressureTrend:        PressureTrend(payload[15]),
		SourceTimestamp:      binary.LittleEndian.Uint32(payload[16:20]),
	}, nil
}

// Encode serializes the readings payload back to its 20-byte wire form.
func (p ReadingsPayload) Encode() []byte {
	buf := make([]byte, readingsPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(p.TemperatureCentiDeg))
	binary.LittleEndian.PutUint16(buf[2:4], p.HumidityCentiPercent)
	binary.LittleEndian.PutUint32(buf[4:8], p.PressureCenti)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(p.Altitude))
	binary.LittleEndian.PutUint16(buf[10:12], p.BatteryMilliVolts)
	buf[12] = p.BatteryPercent
	binary.LittleEndian.PutUint16(buf[13:15], uint16(p.PressureChange))
	buf[15] = byte(p.PressureTrend)
	binary.LittleEndian.PutUint32(buf[16:20], p.SourceTimestamp)
	return buf
}

// nameLen/locationLen are the fixed, NUL-padded string field widths in the
// Status payload.
const (
	nameLen     = 16
	locationLen = 16
)

// StatusPayload carries device-reported health and configuration.
// Fixed size: 16+16+4+4+1+1+1+4+2+2+4+2+2 = 59 bytes.
type StatusPayload struct {
	Name               string
	Location           string
	UptimeSeconds      uint32
	WakeCount          uint32
	SensorHealthy      bool
	LastRSSI           int8
	LastSNR            int8
	FreeHeapBytes      uint32
	SensorFailureCount uint16
	TXFailureCount     uint16
	LastSuccessTX      uint32
	ReadIntervalSec    uint16
	DeepSleepSec       uint16
}

const statusPayloadSize = nameLen + locationLen + 4 + 4 + 1 + 1 + 1 + 4 + 2 + 2 + 4 + 2 + 2

// DecodeStatus decodes a Status payload.
func DecodeStatus(payload []byte) (StatusPayload, error) {
	if len(payload) != statusPayloadSize {
		return StatusPayload{}, ErrPayloadSizeMismatch
	}
	off := 0
	name := trimPadded(payload[off : off+nameLen])
	off += nameLen
	location := trimPadded(payload[off : off+locationLen])
	off += locationLen

	uptime := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	wakeCount := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	healthy := payload[off] != 0
	off++
	rssi := int8(payload[off])
	off++
	snr := int8(payload[off])
	off++
	freeHeap := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	sensorFailures := binary.LittleEndian.Uint16(payload[off : off+2])
	off += 2
	txFailures := binary.LittleEndian.Uint16(payload[off : off+2])
	off += 2
	lastSuccessTX := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	readInterval := binary.LittleEndian.Uint16(payload[off : off+2])
	off += 2
	deepSleep := binary.LittleEndian.Uint16(payload[off : off+2])

	return StatusPayload{
		Name:               name,
		Location:           location,
		UptimeSeconds:      uptime,
		WakeCount:          wakeCount,
		SensorHealthy:      healthy,
		LastRSSI:           rssi,
		LastSNR:            snr,
		FreeHeapBytes:      freeHeap,
		SensorFailureCount: sensorFailures,
		TXFailureCount:     txFailures,
		LastSuccessTX:      lastSuccessTX,
		ReadIntervalSec:    readInterval,
		DeepSleepSec:       deepSleep,
	}, nil
}

// Encode serializes the status payload back to its fixed wire form, with
// name and location NUL-padded to their declared widths (over-long values
// are truncated).
func (p StatusPayload) Encode() []byte {
	buf := make([]byte, statusPayloadSize)
	copy(buf[0:nameLen], p.Name)
	copy(buf[nameLen:nameLen+locationLen], p.Location)

	off := nameLen + locationLen
	binary.LittleEndian.PutUint32(buf[off:off+4], p.UptimeSeconds)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], p.WakeCount)
	off += 4
	if p.SensorHealthy {
		buf[off] = 1
	}
	off++
	buf[off] = byte(p.LastRSSI)
	off++
	buf[off] = byte(p.LastSNR)
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], p.FreeHeapBytes)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:off+2], p.SensorFailureCount)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:off+2], p.TXFailureCount)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:off+4], p.LastSuccessTX)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:off+2], p.ReadIntervalSec)
	off += 2
	binary.LittleEndian.PutUint16(buf[off:off+2], p.DeepSleepSec)
	return buf
}

func trimPadded(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return string(b[:n])
}

// EventPayload carries a variable-length event message. Minimum size 3
// bytes (type + severity + message-length), plus MessageLen message bytes.
type EventPayload struct {
	EventType byte
	Severity  EventSeverity
	Message   string
}

const eventPayloadMinSize = 3

// DecodeEvent decodes an Event payload. Fails with ErrPayloadSizeMismatch if
// shorter than the minimum, or if the declared message length doesn't match
// the remaining bytes.
func DecodeEvent(payload []byte) (EventPayload, error) {
	if len(payload) < eventPayloadMinSize {
		return EventPayload{}, ErrPayloadSizeMismatch
	}
	msgLen := int(payload[2])
	if len(payload) != eventPayloadMinSize+msgLen {
		return EventPayload{}, ErrPayloadSizeMismatch
	}
	return EventPayload{
		EventType: payload[0],
		Severity:  EventSeverity(payload[1]),
		Message:   string(payload[3:]),
	}, nil
}

// Encode serializes the event payload to its wire form:
// [type, severity, msgLen, message...].
func (p EventPayload) Encode() []byte {
	buf := make([]byte, eventPayloadMinSize+len(p.Message))
	buf[0] = p.EventType
	buf[1] = byte(p.Severity)
	buf[2] = uint8(len(p.Message))
	copy(buf[3:], p.Message)
	return buf
}

// CommandPayload carries a command byte and its ASCII-decimal parameter
// bytes (empty for parameter-less commands). Minimum size 2 bytes.
type CommandPayload struct {
	CommandType byte
	Params      []byte
}

const commandPayloadMinSize = 2

// DecodeCommand decodes a Command payload.
func DecodeCommand(payload []byte) (CommandPayload, error) {
	if len(payload) < commandPayloadMinSize {
		return CommandPayload{}, ErrPayloadSizeMismatch
	}
	paramLen := int(payload[1])
	if len(payload) != commandPayloadMinSize+paramLen {
		return CommandPayload{}, ErrPayloadSizeMismatch
	}
	params := make([]byte, paramLen)
	copy(params, payload[2:])
	return CommandPayload{CommandType: payload[0], Params: params}, nil
}

// Encode serializes a command payload to its wire form: [type, paramLen, params...].
func (p CommandPayload) Encode() []byte {
	buf := make([]byte, commandPayloadMinSize+len(p.Params))
	buf[0] = p.CommandType
	buf[1] = uint8(len(p.Params))
	copy(buf[2:], p.Params)
	return buf
}

// AckPayload acknowledges a previously received sequence number.
// Fixed size: 6 bytes.
type AckPayload struct {
	AckedSequence uint16
	Success       bool
	ErrorCode     byte
	RSSI          int8
	SNR           int8
}

const ackPayloadSize = 6

// DecodeAck decodes an Ack payload.
func DecodeAck(payload []byte) (AckPayload, error) {
	if len(payload) != ackPayloadSize {
		return AckPayload{}, ErrPayloadSizeMismatch
	}
	return AckPayload{
		AckedSequence: binary.LittleEndian.Uint16(payload[0:2]),
		Success:       payload[2] != 0,
		ErrorCode:     payload[3],
		RSSI:          int8(payload[4]),
		SNR:           int8(payload[5]),
	}, nil
}

// Encode serializes an ack payload to its 6-byte wire form.
func (p AckPayload) Encode() []byte {
	buf := make([]byte, ackPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], p.AckedSequence)
	if p.Success {
		buf[2] = 1
	}
	buf[3] = p.ErrorCode
	buf[4] = byte(p.RSSI)
	buf[5] = byte(p.SNR)
	return buf
}

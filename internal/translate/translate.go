// Package translate converts between the binary frame domain and the
// broker's JSON message domain: decoded records become structured
// readings/status/event messages, and inbound command JSON
// becomes a validated command-type byte and parameter bytes.
package translate

import (
	"strconv"
	"time"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
	"github.com/brocaar/lora-sensor-bridge/internal/registry"
)

// ReadingsMessage is the flat JSON document published on
// <prefix>/<hex-id>/readings.
type ReadingsMessage struct {
	DeviceID        string    `json:"device_id"`
	Name            string    `json:"name"`
	Location        string    `json:"location"`
	Sequence        uint16    `json:"sequence"`
	Temperature     float64   `json:"temperature"`
	Humidity        float64   `json:"humidity"`
	Pressure        float64   `json:"pressure"`
	Altitude        int16     `json:"altitude"`
	BatteryVoltage  float64   `json:"battery_voltage"`
	BatteryPercent  uint8     `json:"battery_percent"`
	PressureChange  float64   `json:"pressure_change"`
	PressureTrend   string    `json:"pressure_trend"`
	RSSI            int8      `json:"rssi"`
	SNR             int8      `json:"snr"`
	SourceTimestamp uint32    `json:"source_timestamp"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Readings classifies the sensor kind from which payload fields are
// populated (pressure non-zero: environmental-multi; else humidity
// non-zero: humidity-temperature; else temperature-only), assembles
// the flat readings message with physical units, and returns the
// classification so the caller can update the registry.
func Readings(id protocol.DeviceID, name, location string, seq uint16, p protocol.ReadingsPayload, rssi, snr int8, receivedAt time.Time) (ReadingsMessage, registry.SensorKind) {
	kind := registry.SensorTemperatureOnly
	switch {
	case p.PressureCenti != 0:
		kind = registry.SensorEnvironmentalMulti
	case p.HumidityCentiPercent != 0:
		kind = registry.SensorHumidityTemp
	}

	msg := ReadingsMessage{
		DeviceID:        id.String(),
		Name:            name,
		Location:        location,
		Sequence:        seq,
		Temperature:     float64(p.TemperatureCentiDeg) / 100,
		Humidity:        float64(p.HumidityCentiPercent) / 100,
		Pressure:        float64(p.PressureCenti) / 100,
		Altitude:        p.Altitude,
		BatteryVoltage:  float64(p.BatteryMilliVolts) / 1000,
		BatteryPercent:  p.BatteryPercent,
		PressureChange:  float64(p.PressureChange) / 100,
		PressureTrend:   p.PressureTrend.String(),
		RSSI:            rssi,
		SNR:             snr,
		SourceTimestamp: p.SourceTimestamp,
		ReceivedAt:      receivedAt,
	}
	return msg, kind
}

// StatusMessage is the flat JSON document published on
// <prefix>/<hex-id>/status.
type StatusMessage struct {
	DeviceID           string `json:"device_id"`
	Name               string `json:"name"`
	Location           string `json:"location"`
	UptimeSeconds      uint32 `json:"uptime_seconds"`
	WakeCount          uint32 `json:"wake_count"`
	SensorHealthy      bool   `json:"sensor_healthy"`
	LastRSSI           int8   `json:"last_rssi"`
	LastSNR            int8   `json:"last_snr"`
	FreeHeapBytes      uint32 `json:"free_heap_bytes"`
	SensorFailureCount uint16 `json:"sensor_failure_count"`
	TXFailureCount     uint16 `json:"tx_failure_count"`
	ReadIntervalSec    uint16 `json:"read_interval_sec"`
	DeepSleepSec       uint16 `json:"deep_sleep_sec"`
}

// Status assembles the flat status message.
func Status(id protocol.DeviceID, p protocol.StatusPayload) StatusMessage {
	return StatusMessage{
		DeviceID:           id.String(),
		Name:               p.Name,
		Location:           p.Location,
		UptimeSeconds:      p.UptimeSeconds,
		WakeCount:          p.WakeCount,
		SensorHealthy:      p.SensorHealthy,
		LastRSSI:           p.LastRSSI,
		LastSNR:            p.LastSNR,
		FreeHeapBytes:      p.FreeHeapBytes,
		SensorFailureCount: p.SensorFailureCount,
		TXFailureCount:     p.TXFailureCount,
		ReadIntervalSec:    p.ReadIntervalSec,
		DeepSleepSec:       p.DeepSleepSec,
	}
}

// EventMessage is the flat JSON document published on
// <prefix>/<hex-id>/events, with severity encoded as its symbolic name.
type EventMessage struct {
	DeviceID string `json:"device_id"`
	Type     byte   `json:"event_type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Event assembles the flat event message.
func Event(id protocol.DeviceID, p protocol.EventPayload) EventMessage {
	return EventMessage{
		DeviceID: id.String(),
		Type:     p.EventType,
		Severity: p.Severity.String(),
		Message:  p.Message,
	}
}

// CommandRequest is the inbound JSON command ingress object
//: `{ device_id, action, value? }`.
type CommandRequest struct {
	DeviceID string  `json:"device_id"`
	Action   string  `json:"action"`
	Value    float64 `json:"value,omitempty"`
}

// CommandAck is the JSON object published on the ack topic after a command
// is validated and enqueued.
type CommandAck struct {
	DeviceID string `json:"device_id"`
	Action   string `json:"action"`
	Status   string `json:"status"`
}

const (
	cmdCalibrate     byte = 0x01
	cmdSetBaseline   byte = 0x02
	cmdClearBaseline byte = 0x03
	cmdRestart       byte = 0x04
	cmdStatus        byte = 0x05
	cmdSetSleep      byte = 0x06
	cmdSetInterval   byte = 0x07
)

// Command validates req against the recognized action table and returns
// the target device id, the command-type byte, and the
// ASCII-decimal parameter bytes (no trailing NUL) ready for
// protocol.CommandPayload.
func Command(req CommandRequest) (protocol.DeviceID, byte, []byte, error) {
	id, err := protocol.ParseDeviceID(req.DeviceID)
	if err != nil {
		return 0, 0, nil, err
	}

	switch req.Action {
	case "set_interval":
		v := int(req.Value)
		if v < 5 || v > 3600 {
			return 0, 0, nil, ErrInvalidParameter
		}
		return id, cmdSetInterval, []byte(strconv.Itoa(v)), nil
	case "set_sleep":
		v := int(req.Value)
		if v < 0 || v > 3600 {
			return 0, 0, nil, ErrInvalidParameter
		}
		return id, cmdSetSleep, []byte(strconv.Itoa(v)), nil
	case "restart":
		return id, cmdRestart, nil, nil
	case "status":
		return id, cmdStatus, nil, nil
	case "calibrate":
		return id, cmdCalibrate, nil, nil
	case "set_baseline":
		if req.Value < 900 || req.Value > 1100 {
			return 0, 0, nil, ErrInvalidParameter
		}
		return id, cmdSetBaseline, []byte(strconv.FormatFloat(req.Value, 'f', -1, 64)), nil
	case "clear_baseline":
		return id, cmdClearBaseline, nil, nil
	default:
		return 0, 0, nil, ErrUnknownAction
	}
}

package registry

import (
	"time"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

// SensorKind classifies what a device reports, inferred from which
// readings fields are non-zero.
type SensorKind string

const (
	SensorUnknown            SensorKind = "unknown"
	SensorEnvironmentalMulti SensorKind = "environmental-multi"
	SensorTemperatureOnly    SensorKind = "temperature-only"
	SensorHumidityTemp       SensorKind = "humidity-temperature"
)

// emptySequence is the dedup-ring sentinel. Devices must never
// legitimately emit sequence 0xFFFF; if one does while its ring still
// holds unfilled sentinel slots (before the ring has filled, or after a
// clear), that observation is misreported as a duplicate. Documented
// limitation.
const emptySequence uint16 = 0xFFFF

// record is the registry's per-device mutable state. Never handed out
// by pointer outside the registry's lock; Snapshot returns copies.
type record struct {
	id       protocol.DeviceID
	name     string
	location string
	kind     SensorKind

	lastSeen     time.Time
	lastRSSI     int8
	lastSNR      int8
	packetCount  uint64
	lastSequence uint16

	dedupRing  []uint16
	rssiRing   []int8
	ringFilled int
	ringIndex  int

	readIntervalSec uint16
	deepSleepSec    uint16
}

func newRecord(id protocol.DeviceID, ringSize int) *record {
	r := &record{
		id:       id,
		name:     id.DefaultName(),
		location: "unknown",
		kind:     SensorUnknown,
	}
	r.dedupRing = make([]uint16, ringSize)
	r.rssiRing = make([]int8, ringSize)
	r.fillSentinel()
	return r
}

func (r *record) fillSentinel() {
	for i := range r.dedupRing {
		r.dedupRing[i] = emptySequence
	}
	r.ringIndex = 0
	r.ringFilled = 0
}

// isDuplicate scans the entire ring for an exact sequence match,
// including the sentinel itself.
func (r *record) isDuplicate(seq uint16) bool {
	for _, s := range r.dedupRing {
		if s == seq {
			return true
		}
	}
	return false
}

// observe records a non-duplicate sequence number into the ring, advancing
// the write index modulo the ring size, and updates link/packet metrics.
func (r *record) observe(seq uint16, rssi, snr int8, at time.Time) {
	r.dedupRing[r.ringIndex] = seq
	r.rssiRing[r.ringIndex] = rssi
	r.ringIndex = (r.ringIndex + 1) % len(r.dedupRing)
	if r.ringFilled < len(r.dedupRing) {
		r.ringFilled++
	}

	r.lastSeen = at
	r.lastRSSI = rssi
	r.lastSNR = snr
	r.packetCount++
	r.lastSequence = seq
}

// meanRSSI averages the RSSI values retained alongside the dedup ring (the
// registry keeps no history beyond what dedup bookkeeping already owns).
func (r *record) meanRSSI() float64 {
	if r.ringFilled == 0 {
		return 0
	}
	var sum int
	for i := 0; i < r.ringFilled; i++ {
		sum += int(r.rssiRing[i])
	}
	return float64(sum) / float64(r.ringFilled)
}

// Snapshot is a consistent, copy-based, externally safe view of one device
// record, built inside the registry's lock.
type Snapshot struct {
	ID              protocol.DeviceID `json:"id"`
	Name            string            `json:"name"`
	Location        string            `json:"location"`
	SensorKind      SensorKind        `json:"sensor_kind"`
	LastSeen        time.Time         `json:"last_seen"`
	LastRSSI        int8              `json:"last_rssi"`
	LastSNR         int8              `json:"last_snr"`
	MeanRSSI        float64           `json:"mean_rssi"`
	PacketCount     uint64            `json:"packet_count"`
	LastSequence    uint16            `json:"last_sequence"`
	ReadIntervalSec uint16            `json:"read_interval_sec"`
	DeepSleepSec    uint16            `json:"deep_sleep_sec"`
}

func (r *record) snapshot() Snapshot {
	return Snapshot{
		ID:              r.id,
		Name:            r.name,
		Location:        r.location,
		SensorKind:      r.kind,
		LastSeen:        r.lastSeen,
		LastRSSI:        r.lastRSSI,
		LastSNR:         r.lastSNR,
		MeanRSSI:        r.meanRSSI(),
		PacketCount:     r.packetCount,
		LastSequence:    r.lastSequence,
		ReadIntervalSec: r.readIntervalSec,
		DeepSleepSec:    r.deepSleepSec,
	}
}

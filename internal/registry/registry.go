// Package registry tracks known sensor devices: identity, last-seen
// metrics, the per-device sequence-dedup ring, and user-assigned
// metadata. All operations are serialized behind a single mutex.
package registry

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

// DefaultRingSize is the dedup ring length: the last 50
// sequence numbers are retained regardless of monotonicity.
const DefaultRingSize = 50

// Persister durably stores the registry's table. Implementations are
// best-effort: a failure is logged by the registry and never propagated to
// callers, since the in-memory table remains authoritative.
type Persister interface {
	Persist(snapshot []Snapshot) error
}

// Registry is the bridge's bounded, thread-safe device table.
type Registry struct {
	mu sync.Mutex

	capacity int
	ringSize int
	records  map[protocol.DeviceID]*record

	persister Persister
}

// New creates a Registry bounded to capacity devices, each with a dedup
// ring of ringSize entries.
func New(capacity, ringSize int, persister Persister) *Registry {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Registry{
		capacity:  capacity,
		ringSize:  ringSize,
		records:   make(map[protocol.DeviceID]*record),
		persister: persister,
	}
}

// Ensure returns the record for id, creating one with defaults if absent.
// Returns ErrRegistryFull if the registry is at capacity and id is unknown.
func (r *Registry) Ensure(id protocol.DeviceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.ensureLocked(id)
	return err
}

func (r *Registry) ensureLocked(id protocol.DeviceID) (*record, error) {
	if rec, ok := r.records[id]; ok {
		return rec, nil
	}
	if r.capacity > 0 && len(r.records) >= r.capacity {
		return nil, ErrRegistryFull
	}
	rec := newRecord(id, r.ringSize)
	r.records[id] = rec
	return rec, nil
}

// Observe auto-creates the device if necessary, writes seq into its
// dedup ring, advances the write index, and refreshes last-seen metrics.
// Registry-full on auto-create is logged and swallowed:
// the receive pipeline should still be able to observe a packet it already
// decoded even if the table happens to be full.
func (r *Registry) Observe(id protocol.DeviceID, seq uint16, rssi, snr int8, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ensureLocked(id)
	if err != nil {
		log.WithFields(log.Fields{
			"device_id": id.String(),
		}).Warn("registry: dropping observation, registry at capacity")
		return
	}
	rec.observe(seq, rssi, snr, at)
}

// IsDuplicate scans the device's entire dedup ring for an exact match.
// Unknown devices are reported as non-duplicate.
func (r *Registry) IsDuplicate(id protocol.DeviceID, seq uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false
	}
	return rec.isDuplicate(seq)
}

// ClearDedup resets a device's dedup ring to all-sentinel. A no-op on
// unknown devices: there is nothing to clear and nothing worth
// auto-creating for.
func (r *Registry) ClearDedup(id protocol.DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.fillSentinel()
	}
}

// SetName updates a device's friendly name, no-op if unchanged, and
// schedules persistence otherwise.
func (r *Registry) SetName(id protocol.DeviceID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ensureLocked(id)
	if err != nil || rec.name == name {
		return
	}
	rec.name = name
	r.persistLocked()
}

// SetLocation updates a device's location, no-op if unchanged.
func (r *Registry) SetLocation(id protocol.DeviceID, location string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ensureLocked(id)
	if err != nil || rec.location == location {
		return
	}
	rec.location = location
	r.persistLocked()
}

// SetSensorKind updates a device's inferred sensor kind, no-op if unchanged.
func (r *Registry) SetSensorKind(id protocol.DeviceID, kind SensorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ensureLocked(id)
	if err != nil || rec.kind == kind {
		return
	}
	rec.kind = kind
	r.persistLocked()
}

// SetConfig updates the reported read-interval/deep-sleep config, no-op
// if both values are unchanged.
func (r *Registry) SetConfig(id protocol.DeviceID, readIntervalSec, deepSleepSec uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ensureLocked(id)
	if err != nil || (rec.readIntervalSec == readIntervalSec && rec.deepSleepSec == deepSleepSec) {
		return
	}
	rec.readIntervalSec = readIntervalSec
	rec.deepSleepSec = deepSleepSec
	r.persistLocked()
}

// LookupName returns a device's friendly name, auto-creating with defaults
// if the device is unknown so the translator can always emit a name.
func (r *Registry) LookupName(id protocol.DeviceID) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ensureLocked(id)
	if err != nil {
		return id.DefaultName()
	}
	return rec.name
}

// LookupLocation returns a device's location, auto-creating with defaults
// if the device is unknown.
func (r *Registry) LookupLocation(id protocol.DeviceID) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.ensureLocked(id)
	if err != nil {
		return "unknown"
	}
	return rec.location
}

// Seed restores previously persisted identity, metadata, and link-metric
// checkpoints at startup, without
// re-triggering a persist for each entry (the table on disk already
// reflects this data). Devices beyond capacity are dropped with a warning,
// same as any other at-capacity arrival.
func (r *Registry) Seed(entries []LoadedEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range entries {
		rec, err := r.ensureLocked(e.ID)
		if err != nil {
			log.WithField("device_id", e.ID.String()).Warn("registry: dropping seeded device, registry at capacity")
			continue
		}
		rec.name = e.Name
		rec.location = e.Location
		rec.lastSeen = e.LastSeen
		rec.packetCount = e.PacketCount
		rec.lastRSSI = e.RSSI
		rec.lastSNR = e.SNR
	}
}

// Get returns a copy-based snapshot of a single device, or false if the
// device is unknown. Unlike LookupName/LookupLocation it never
// auto-creates: callers asking for a full snapshot want existing state.
func (r *Registry) Get(id protocol.DeviceID) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Snapshot{}, false
	}
	return rec.snapshot(), true
}

// Snapshot returns a consistent, copy-based view of every known device,
// sorted by id for deterministic output. Safe to retain indefinitely: it
// shares no memory with the registry's internal records.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// persistLocked writes the full table to the durable-storage
// collaborator. Called with r.mu held. Best-effort: failures are logged,
// never returned; the in-memory record remains authoritative.
func (r *Registry) persistLocked() {
	if r.persister == nil {
		return
	}
	out := make([]Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if err := r.persister.Persist(out); err != nil {
		log.WithError(err).Warn("registry: failed to persist device table")
	}
}

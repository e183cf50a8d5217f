package registry

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

// FilePersister writes the registry table to a single JSON document on
// an afero filesystem, letting tests exercise persistence against an
// in-memory fs instead of real disk.
type FilePersister struct {
	fs   afero.Fs
	path string
}

// NewFilePersister returns a Persister that writes snapshots to path on fs.
func NewFilePersister(fs afero.Fs, path string) *FilePersister {
	return &FilePersister{fs: fs, path: path}
}

// richEntry is the current on-disk record shape, carrying the link
// metrics the firmware format never persisted.
type richEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	LastSeen    time.Time `json:"lastSeen"`
	PacketCount uint64    `json:"packetCount"`
	RSSI        int8      `json:"rssi"`
	SNR         int8      `json:"snr"`
}

// firmwareDocument is the on-disk shape written by the firmware gateway
// this bridge replaced: the device list wrapped in an object, with no
// link metrics and a numeric lastSeen.
type firmwareDocument struct {
	Devices []firmwareEntry `json:"devices"`
}

type firmwareEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	LastSeen    int64  `json:"lastSeen"`
	PacketCount uint64 `json:"packetCount"`
}

// Persist writes the full table as a single JSON array in the rich format.
func (p *FilePersister) Persist(snapshot []Snapshot) error {
	entries := make([]richEntry, 0, len(snapshot))
	for _, s := range snapshot {
		entries = append(entries, richEntry{
			ID:          s.ID.String(),
			Name:        s.Name,
			Location:    s.Location,
			LastSeen:    s.LastSeen,
			PacketCount: s.PacketCount,
			RSSI:        s.LastRSSI,
			SNR:         s.LastSNR,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "registry: marshal snapshot")
	}

	tmp := p.path + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "registry: write temp file")
	}
	if err := p.fs.Rename(tmp, p.path); err != nil {
		return errors.Wrap(err, "registry: rename temp file into place")
	}
	return nil
}

// LoadedEntry is one record recovered from disk at startup, in a form the
// caller can feed back into a Registry via Ensure/SetName/SetLocation/etc.
type LoadedEntry struct {
	ID          protocol.DeviceID
	Name        string
	Location    string
	LastSeen    time.Time
	PacketCount uint64
	RSSI        int8
	SNR         int8
}

// Load reads the persisted table. The current format is a bare JSON
// array of rich entries; files written by the firmware gateway this
// bridge replaced (an object wrapping the device list, without link
// metrics) are also accepted and upgraded in memory. A missing file is
// not an error: it means a fresh registry.
func Load(fs afero.Fs, path string) ([]LoadedEntry, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "registry: check persisted file")
	}
	if !exists {
		return nil, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "registry: read persisted file")
	}

	var rich []richEntry
	if err := json.Unmarshal(data, &rich); err == nil {
		return loadRich(rich)
	}

	var doc firmwareDocument
	if err := json.Unmarshal(data, &doc); err != nil || doc.Devices == nil {
		return nil, errors.New("registry: persisted file is neither the current format nor a firmware registry document")
	}
	return loadFirmware(doc.Devices)
}

func loadRich(entries []richEntry) ([]LoadedEntry, error) {
	out := make([]LoadedEntry, 0, len(entries))
	for _, e := range entries {
		id, err := protocol.ParseDeviceID(e.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "registry: parse device id %q", e.ID)
		}
		out = append(out, LoadedEntry{
			ID:          id,
			Name:        e.Name,
			Location:    e.Location,
			LastSeen:    e.LastSeen,
			PacketCount: e.PacketCount,
			RSSI:        e.RSSI,
			SNR:         e.SNR,
		})
	}
	return out, nil
}

// loadFirmware upgrades the firmware document's entries: lastSeen is
// interpreted as unix seconds (the firmware stored an uptime tick there,
// so zero is common and maps to the zero time), and the link metrics it
// never persisted stay zero-valued.
func loadFirmware(entries []firmwareEntry) ([]LoadedEntry, error) {
	out := make([]LoadedEntry, 0, len(entries))
	for _, e := range entries {
		id, err := protocol.ParseDeviceID(e.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "registry: parse device id %q", e.ID)
		}
		entry := LoadedEntry{
			ID:          id,
			Name:        e.Name,
			Location:    e.Location,
			PacketCount: e.PacketCount,
		}
		if e.LastSeen > 0 {
			entry.LastSeen = time.Unix(e.LastSeen, 0)
		}
		out = append(out, entry)
	}
	return out, nil
}

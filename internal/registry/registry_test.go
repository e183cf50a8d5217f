package registry

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

const testDeviceID protocol.DeviceID = 0xAABBCCDDEEFF0011

func TestEnsureCreatesDefaultRecord(t *testing.T) {
	r := New(10, 0, nil)
	require.NoError(t, r.Ensure(testDeviceID))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "sensor_eeff0011", snap[0].Name)
	assert.Equal(t, "unknown", snap[0].Location)
}

func TestEnsureReturnsFullAtCapacity(t *testing.T) {
	r := New(1, 0, nil)
	require.NoError(t, r.Ensure(testDeviceID))
	err := r.Ensure(protocol.DeviceID(2))
	assert.ErrorIs(t, err, ErrRegistryFull)

	// The already-known device is still reachable past capacity.
	assert.NoError(t, r.Ensure(testDeviceID))
}

func TestDedupScenario(t *testing.T) {
	r := New(10, DefaultRingSize, nil)

	assert.False(t, r.IsDuplicate(testDeviceID, 7))
	r.Observe(testDeviceID, 7, -85, 9, time.Unix(1000, 0))
	assert.True(t, r.IsDuplicate(testDeviceID, 7))
}

func TestStartupClearsDedupScenario(t *testing.T) {
	r := New(10, DefaultRingSize, nil)

	r.Observe(testDeviceID, 7, -85, 9, time.Unix(1000, 0))
	require.True(t, r.IsDuplicate(testDeviceID, 7))

	r.ClearDedup(testDeviceID)
	assert.False(t, r.IsDuplicate(testDeviceID, 7))

	r.Observe(testDeviceID, 7, -80, 8, time.Unix(1001, 0))
	assert.True(t, r.IsDuplicate(testDeviceID, 7))
}

func TestDedupSentinelBoundary(t *testing.T) {
	// Documented limitation: a device that legitimately emits sequence
	// 0xFFFF has its first observation misreported as a duplicate,
	// because a known device's ring is pre-filled with that sentinel
	// (an unknown device is never reported as a duplicate).
	r := New(10, DefaultRingSize, nil)
	require.NoError(t, r.Ensure(testDeviceID))
	assert.True(t, r.IsDuplicate(testDeviceID, 0xFFFF))
}

func TestDedupRingWrapsAtFixedSize(t *testing.T) {
	r := New(10, 3, nil)
	r.Observe(testDeviceID, 1, 0, 0, time.Unix(0, 0))
	r.Observe(testDeviceID, 2, 0, 0, time.Unix(0, 0))
	r.Observe(testDeviceID, 3, 0, 0, time.Unix(0, 0))
	// Ring is full (size 3); sequence 1 is about to be overwritten.
	assert.True(t, r.IsDuplicate(testDeviceID, 1))

	r.Observe(testDeviceID, 4, 0, 0, time.Unix(0, 0))
	assert.False(t, r.IsDuplicate(testDeviceID, 1))
	assert.True(t, r.IsDuplicate(testDeviceID, 4))
}

func TestSetterNoOpWhenUnchanged(t *testing.T) {
	fs := afero.NewMemMapFs()
	persister := NewFilePersister(fs, "/registry.json")
	r := New(10, 0, persister)

	r.SetName(testDeviceID, "same")
	written, err := afero.Exists(fs, "/registry.json")
	require.NoError(t, err)
	assert.True(t, written)

	// Remove the file and set the identical name again; a no-op must not
	// re-persist.
	require.NoError(t, fs.Remove("/registry.json"))
	r.SetName(testDeviceID, "same")
	written, err = afero.Exists(fs, "/registry.json")
	require.NoError(t, err)
	assert.False(t, written)
}

func TestLookupNameAndLocationAutoCreate(t *testing.T) {
	r := New(10, 0, nil)
	assert.Equal(t, "sensor_eeff0011", r.LookupName(testDeviceID))
	assert.Equal(t, "unknown", r.LookupLocation(testDeviceID))
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	persister := NewFilePersister(fs, "/registry.json")
	r := New(10, 0, persister)

	r.SetName(testDeviceID, "porch-sensor")
	r.SetLocation(testDeviceID, "porch")
	r.Observe(testDeviceID, 5, -70, 6, time.Unix(2000, 0))

	loaded, err := Load(fs, "/registry.json")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, testDeviceID, loaded[0].ID)
	assert.Equal(t, "porch-sensor", loaded[0].Name)
	assert.Equal(t, "porch", loaded[0].Location)
}

func TestLoadAcceptsFirmwareFormat(t *testing.T) {
	fs := afero.NewMemMapFs()
	// Object-wrapped device list as the firmware gateway wrote it: no
	// link metrics, numeric lastSeen.
	firmware := `{"devices":[{"id":"AABBCCDDEEFF0011","name":"old-name","location":"attic","lastSeen":1700000000,"packetCount":42}]}`
	require.NoError(t, afero.WriteFile(fs, "/registry.json", []byte(firmware), 0o644))

	loaded, err := Load(fs, "/registry.json")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, testDeviceID, loaded[0].ID)
	assert.Equal(t, "old-name", loaded[0].Name)
	assert.Equal(t, "attic", loaded[0].Location)
	assert.EqualValues(t, 42, loaded[0].PacketCount)
	assert.Equal(t, time.Unix(1700000000, 0), loaded[0].LastSeen)
	assert.Zero(t, loaded[0].RSSI)
	assert.Zero(t, loaded[0].SNR)
}

func TestLoadFirmwareFormatZeroLastSeen(t *testing.T) {
	fs := afero.NewMemMapFs()
	firmware := `{"devices":[{"id":"AABBCCDDEEFF0011","name":"n","location":"l","lastSeen":0,"packetCount":0}]}`
	require.NoError(t, afero.WriteFile(fs, "/registry.json", []byte(firmware), 0o644))

	loaded, err := Load(fs, "/registry.json")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].LastSeen.IsZero())
}

func TestLoadRejectsUnknownFormat(t *testing.T) {
	fs := afero.NewMemMapFs()

	require.NoError(t, afero.WriteFile(fs, "/registry.json", []byte(`{"foo":1}`), 0o644))
	_, err := Load(fs, "/registry.json")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/registry.json", []byte(`not json`), 0o644))
	_, err = Load(fs, "/registry.json")
	assert.Error(t, err)
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	fs := afero.NewMemMapFs()
	loaded, err := Load(fs, "/registry.json")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSnapshotMeanRSSI(t *testing.T) {
	r := New(10, DefaultRingSize, nil)
	r.Observe(testDeviceID, 1, -80, 5, time.Unix(0, 0))
	r.Observe(testDeviceID, 2, -60, 5, time.Unix(0, 0))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, -70.0, snap[0].MeanRSSI)
	assert.EqualValues(t, 2, snap[0].PacketCount)
}

func TestSequenceWrapAround(t *testing.T) {
	r := New(10, DefaultRingSize, nil)
	for _, seq := range []uint16{0xFFFD, 0xFFFE, 0x0000, 0x0001} {
		require.False(t, r.IsDuplicate(testDeviceID, seq), "seq %d", seq)
		r.Observe(testDeviceID, seq, 0, 0, time.Unix(0, 0))
	}
	assert.True(t, r.IsDuplicate(testDeviceID, 0xFFFE))
	assert.True(t, r.IsDuplicate(testDeviceID, 0x0000))
}

func TestGetReturnsCopyWithoutAutoCreate(t *testing.T) {
	r := New(10, 0, nil)

	_, ok := r.Get(testDeviceID)
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot(), "Get must not auto-create")

	r.Observe(testDeviceID, 1, -70, 5, time.Unix(3000, 0))
	snap, ok := r.Get(testDeviceID)
	require.True(t, ok)
	assert.EqualValues(t, 1, snap.PacketCount)
}

func TestSeedRestoresPersistedCheckpoints(t *testing.T) {
	r := New(10, 0, nil)
	r.Seed([]LoadedEntry{{
		ID:          testDeviceID,
		Name:        "porch-sensor",
		Location:    "porch",
		LastSeen:    time.Unix(5000, 0),
		PacketCount: 42,
		RSSI:        -77,
		SNR:         6,
	}})

	snap, ok := r.Get(testDeviceID)
	require.True(t, ok)
	assert.Equal(t, "porch-sensor", snap.Name)
	assert.EqualValues(t, 42, snap.PacketCount)
	assert.EqualValues(t, -77, snap.LastRSSI)
	assert.Equal(t, time.Unix(5000, 0), snap.LastSeen)
}

func TestSeedDropsDevicesBeyondCapacity(t *testing.T) {
	r := New(1, 0, nil)
	r.Seed([]LoadedEntry{
		{ID: testDeviceID, Name: "a"},
		{ID: protocol.DeviceID(2), Name: "b"},
	})
	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, testDeviceID, snap[0].ID)
}

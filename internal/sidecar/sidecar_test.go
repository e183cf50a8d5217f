package sidecar

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledClientIsNoOp(t *testing.T) {
	c := New("", 0)
	assert.False(t, c.Enabled())
	c.MirrorDevice(DevicePayload{DeviceID: "1"})
	c.drain() // must not panic or block
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	c := New("http://example.invalid", 2)
	c.MirrorDevice(DevicePayload{DeviceID: "1"})
	c.MirrorDevice(DevicePayload{DeviceID: "2"})
	c.MirrorDevice(DevicePayload{DeviceID: "3"})

	require.Len(t, c.queue, 2)
	assert.Equal(t, DevicePayload{DeviceID: "2"}, c.queue[0].body)
	assert.Equal(t, DevicePayload{DeviceID: "3"}, c.queue[1].body)
}

func TestDrainPostsQueuedEntriesInOrder(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, 10)
	c.MirrorDevice(DevicePayload{DeviceID: "1"})
	c.MirrorCommand(CommandPayload{DeviceID: "1", Status: "queued"})

	c.drain()
	assert.Empty(t, c.queue)
	assert.EqualValues(t, 2, atomic.LoadInt32(&received))
}

func TestDrainStopsOnFirstFailureLeavingRestQueued(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 10)
	c.MirrorDevice(DevicePayload{DeviceID: "1"})
	c.MirrorDevice(DevicePayload{DeviceID: "2"})

	c.drain()
	assert.Len(t, c.queue, 2)
}

func TestHealthyProbesHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, 10)
	assert.True(t, c.Healthy())
}

func TestRunStopsOnSignal(t *testing.T) {
	c := New("http://example.invalid", 10)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.Run(stop)
		close(done)
	}()
	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

// Package sidecar best-effort mirrors bridge activity to an optional
// external HTTP recipient for long-term storage. Payload field names
// match the companion ingestion service's schema so an unmodified
// deployment of it can ingest the bridge's writes.
package sidecar

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
)

// DefaultQueueCapacity bounds the write queue; the intervals pace queue
// drains and health probes.
const (
	DefaultQueueCapacity = 1000
	ReconnectInterval    = 30 * time.Second
	HealthProbeInterval  = 60 * time.Second
)

// DevicePayload mirrors a registry record.
type DevicePayload struct {
	DeviceID       string `json:"device_id"`
	Name           string `json:"name"`
	Location       string `json:"location"`
	SensorType     string `json:"sensor_type"`
	LastRSSI       int16  `json:"last_rssi"`
	LastSNR        int16  `json:"last_snr"`
	PacketCount    int32  `json:"packet_count"`
	LastSequence   int32  `json:"last_sequence"`
	SensorInterval int16  `json:"sensor_interval"`
	DeepSleepSec   int16  `json:"deep_sleep_sec"`
}

// PacketPayload mirrors one decoded frame.
type PacketPayload struct {
	DeviceID    string          `json:"device_id"`
	MsgType     int16           `json:"msg_type"`
	SequenceNum int32           `json:"sequence_num"`
	RSSI        int16           `json:"rssi"`
	SNR         int16           `json:"snr"`
	Payload     json.RawMessage `json:"payload"`
}

// CommandPayload mirrors a validated, enqueued command.
type CommandPayload struct {
	DeviceID    string `json:"device_id"`
	CommandType int16  `json:"command_type"`
	Parameters  string `json:"parameters"`
	Status      string `json:"status"`
}

// EventPayload mirrors an EVENT frame.
type EventPayload struct {
	DeviceID  string `json:"device_id"`
	EventType int16  `json:"event_type"`
	Severity  int16  `json:"severity"`
	Message   string `json:"message"`
}

// write is one queued outbound HTTP call.
type write struct {
	path string
	body any
	seq  uint64
}

// Client queues writes to the sidecar with a bounded, drop-oldest
// overflow policy, and drains them on a background goroutine. DeviceId
// is always transmitted as a decimal string (not hex) to avoid integer
// truncation in naive JSON consumers.
type Client struct {
	baseURL string
	http    *http.Client

	mu       sync.Mutex
	queue    []write
	capacity int
	seq      uint64

	stop chan struct{}
}

// New creates a sidecar Client targeting baseURL. If baseURL is empty
// the sidecar is disabled and every call is a no-op; the bridge's own
// operation is never affected by sidecar absence.
func New(baseURL string, capacity int) *Client {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 5 * time.Second},
		capacity: capacity,
		stop:     make(chan struct{}),
	}
	return c
}

// Enabled reports whether a sidecar URL was configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

func (c *Client) enqueue(path string, body any) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	if len(c.queue) >= c.capacity {
		c.queue = c.queue[1:] // drop-oldest
		log.Warn("sidecar: write queue full, dropping oldest entry")
	}
	c.queue = append(c.queue, write{path: path, body: body, seq: c.seq})
}

// MirrorDevice queues a device snapshot write to /devices.
func (c *Client) MirrorDevice(p DevicePayload) { c.enqueue("/devices", p) }

// MirrorPacket queues a decoded-frame write to /packets.
func (c *Client) MirrorPacket(p PacketPayload) { c.enqueue("/packets", p) }

// MirrorCommand queues a command write to /commands.
func (c *Client) MirrorCommand(p CommandPayload) { c.enqueue("/commands", p) }

// MirrorEvent queues an event write to /events.
func (c *Client) MirrorEvent(p EventPayload) { c.enqueue("/events", p) }

// Run drains the queue on ReconnectInterval ticks and probes the health
// endpoint on HealthProbeInterval ticks until stop fires. A drain failure
// (connection refused, non-2xx) leaves remaining entries queued for the
// next tick; it never blocks or panics the caller.
func (c *Client) Run(stop <-chan struct{}) {
	drain := time.NewTicker(ReconnectInterval)
	defer drain.Stop()
	health := time.NewTicker(HealthProbeInterval)
	defer health.Stop()

	healthy := true
	for {
		select {
		case <-stop:
			return
		case <-drain.C:
			c.drain()
		case <-health.C:
			if now := c.Healthy(); now != healthy {
				healthy = now
				log.WithField("healthy", healthy).Info("sidecar: health state changed")
			}
		}
	}
}

func (c *Client) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.mu.Unlock()

		if err := c.post(next.path, next.body); err != nil {
			log.WithError(err).WithField("path", next.path).Debug("sidecar: write failed, will retry next tick")
			return
		}

		c.mu.Lock()
		if len(c.queue) > 0 && c.queue[0].seq == next.seq {
			c.queue = c.queue[1:]
		}
		c.mu.Unlock()
	}
}

func (c *Client) post(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode}
	}
	return nil
}

// Healthy probes the sidecar's health endpoint.
func (c *Client) Healthy() bool {
	if !c.Enabled() {
		return false
	}
	resp, err := c.http.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// DeviceIDDecimal renders a DeviceId as decimal (not hex) for sidecar
// payloads.
func DeviceIDDecimal(id protocol.DeviceID) string {
	return strconv.FormatUint(uint64(id), 10)
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "sidecar: unexpected status " + strconv.Itoa(e.status)
}

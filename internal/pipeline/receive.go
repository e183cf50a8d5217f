package pipeline

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-sensor-bridge/internal/metrics"
	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
	"github.com/brocaar/lora-sensor-bridge/internal/radio"
	"github.com/brocaar/lora-sensor-bridge/internal/registry"
	"github.com/brocaar/lora-sensor-bridge/internal/watchdog"
)

const (
	pollInterval   = 10 * time.Millisecond
	enqueueTimeout = 100 * time.Millisecond
	ackArbiterWait = 1 * time.Second
	statsInterval  = 30 * time.Second
)

// Receiver runs the receive pipeline on its own goroutine,
// the higher-priority of the bridge's two execution contexts.
type Receiver struct {
	arbiter  *radio.Arbiter
	registry *registry.Registry
	queue    *Queue
	metrics  *metrics.Collector
	wd       *watchdog.Handle
}

// NewReceiver wires the receive pipeline's collaborators. wd may be nil
// when no watchdog supervises this context (tests).
func NewReceiver(arbiter *radio.Arbiter, reg *registry.Registry, queue *Queue, m *metrics.Collector, wd *watchdog.Handle) *Receiver {
	return &Receiver{arbiter: arbiter, registry: reg, queue: queue, metrics: m, wd: wd}
}

// Run drives the receive loop until stop is closed: wait for a frame,
// decode, dedup, update the registry, enqueue the record, ack.
func (r *Receiver) Run(stop <-chan struct{}) {
	handle, err := r.arbiter.Acquire(5 * time.Second)
	if err != nil {
		log.WithError(err).Error("receive: failed to acquire arbiter at startup")
		return
	}
	_ = handle.Radio.StartReceive()
	// RXChan's reference is stable for the radio's lifetime, so it is safe
	// to read outside the arbiter: only transmit/state-change operations
	// need serializing.
	rxChan := handle.Radio.RXChan()
	handle.Release()

	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	for {
		r.wd.Reset()
		select {
		case <-stop:
			return
		case frame := <-rxChan:
			r.handleFrame(frame)
		case <-stats.C:
			r.logStats()
		case <-time.After(pollInterval):
		}
	}
}

// logStats periodically emits the aggregate receive counters. The same
// counters are exported on /metrics; this log line is for operators
// tailing the bridge without a scraper.
func (r *Receiver) logStats() {
	log.WithFields(log.Fields{
		"received_ok":         metrics.CounterValue(r.metrics.ReceivedOK),
		"dropped":             metrics.CounterValue(r.metrics.Dropped),
		"duplicates_filtered": metrics.CounterValue(r.metrics.DuplicatesFiltered),
	}).Info("receive: aggregate counters")
}

func (r *Receiver) handleFrame(raw radio.RXFrame) {
	frame, err := protocol.Decode(raw.Data)
	if err != nil {
		log.WithError(err).Debug("receive: dropping frame, decode failed")
		r.metrics.Dropped.Inc()
		return
	}

	if r.registry.IsDuplicate(frame.Header.DeviceID, frame.Header.Sequence) {
		r.metrics.DuplicatesFiltered.Inc()
		return
	}

	r.registry.Observe(frame.Header.DeviceID, frame.Header.Sequence, raw.RSSI, raw.SNR, time.Now())

	rec := DecodedRecord{
		Header:    frame.Header,
		Payload:   frame.Payload,
		RSSI:      raw.RSSI,
		SNR:       raw.SNR,
		ReceiveAt: time.Now(),
	}
	if !r.queue.TryEnqueue(rec, enqueueTimeout) {
		log.WithField("device_id", frame.Header.DeviceID.String()).Warn("receive: decoded-record queue full, dropping")
		r.metrics.Dropped.Inc()
		return
	}
	r.metrics.ReceivedOK.Inc()

	switch frame.Header.Type {
	case protocol.MsgReadings, protocol.MsgStatus, protocol.MsgEvent:
		r.sendAck(frame.Header.DeviceID, frame.Header.Sequence, raw.RSSI, raw.SNR)
	}
}

// sendAck transmits an ACK frame for (id, seq) through the arbiter.
// Failure is logged and never aborts the receive loop.
func (r *Receiver) sendAck(id protocol.DeviceID, seq uint16, rssi, snr int8) {
	handle, err := r.arbiter.Acquire(ackArbiterWait)
	if err != nil {
		r.metrics.AckFailures.Inc()
		log.WithError(err).Debug("receive: could not acquire arbiter to send ack")
		return
	}
	defer func() {
		_ = handle.Radio.StartReceive()
		handle.Release()
	}()

	if err := handle.Radio.Standby(); err != nil {
		r.metrics.AckFailures.Inc()
		return
	}

	payload := protocol.AckPayload{AckedSequence: seq, Success: true, RSSI: rssi, SNR: snr}.Encode()
	raw, err := protocol.Encode(protocol.Header{Type: protocol.MsgAck, DeviceID: id, Sequence: seq}, payload)
	if err != nil {
		r.metrics.AckFailures.Inc()
		return
	}

	if err := handle.Radio.Transmit(raw); err != nil {
		r.metrics.AckFailures.Inc()
		log.WithError(err).Debug("receive: ack transmit failed")
	}
}

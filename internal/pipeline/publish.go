package pipeline

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-sensor-bridge/internal/command"
	"github.com/brocaar/lora-sensor-bridge/internal/metrics"
	"github.com/brocaar/lora-sensor-bridge/internal/protocol"
	"github.com/brocaar/lora-sensor-bridge/internal/registry"
	"github.com/brocaar/lora-sensor-bridge/internal/sidecar"
	"github.com/brocaar/lora-sensor-bridge/internal/translate"
	"github.com/brocaar/lora-sensor-bridge/internal/watchdog"
)

const (
	dequeueTimeout   = 100 * time.Millisecond
	retryWindowDelay = 3 * time.Second
	reconnectRetry   = 5 * time.Second
)

// BrokerClient is the publish path's view of the MQTT collaborator,
// satisfied by *broker.Client. Kept as an interface so tests can
// simulate disconnects, publish failures, and malformed inbound commands
// without a live broker.
type BrokerClient interface {
	IsConnected() bool
	Reconnect() error
	PublishReadings(hexID string, msg any) error
	PublishStatus(hexID string, msg any) error
	PublishEvent(hexID string, msg any) error
	PublishAck(msg any) error
}

// Publisher runs the publish/command path on its own
// goroutine, the lower-priority of the bridge's two execution contexts.
type Publisher struct {
	broker   BrokerClient
	registry *registry.Registry
	queue    *Queue
	commands *command.Queue
	sidecar  *sidecar.Client
	metrics  *metrics.Collector
	wd       *watchdog.Handle

	// retryDelay matches the sensor's RX-window opening; overridable so
	// tests don't wait out the real window.
	retryDelay time.Duration

	lastReconnectAttempt time.Time
}

// NewPublisher wires the publish path's collaborators. m and wd may be
// nil (tests).
func NewPublisher(b BrokerClient, reg *registry.Registry, queue *Queue, cmds *command.Queue, sc *sidecar.Client, m *metrics.Collector, wd *watchdog.Handle) *Publisher {
	return &Publisher{
		broker:     b,
		registry:   reg,
		queue:      queue,
		commands:   cmds,
		sidecar:    sc,
		metrics:    m,
		wd:         wd,
		retryDelay: retryWindowDelay,
	}
}

// Run drives the publish loop until stop is closed: reconnect the
// broker when it is down, then drain the decoded-record queue.
func (p *Publisher) Run(stop <-chan struct{}) {
	for {
		p.wd.Reset()
		select {
		case <-stop:
			return
		default:
		}

		if !p.broker.IsConnected() {
			if time.Since(p.lastReconnectAttempt) >= reconnectRetry {
				p.lastReconnectAttempt = time.Now()
				if err := p.broker.Reconnect(); err != nil {
					log.WithError(err).Debug("publish: broker reconnect failed, will retry")
				}
			}
		}

		rec, ok := p.queue.Dequeue(dequeueTimeout)
		if !ok {
			continue
		}
		p.handleRecord(rec)
	}
}

func (p *Publisher) handleRecord(rec DecodedRecord) {
	// This is the sole moment a sensor is known to be in its RX window:
	// block briefly to match the window opening, then drain any queued
	// commands for this device before translating the record. The delay
	// intentionally suspends the publish context; records queue up behind
	// it in arrival order rather than being handled concurrently.
	time.Sleep(p.retryDelay)
	p.commands.RetryFor(rec.Header.DeviceID)
	p.updateQueueDepth()

	switch rec.Header.Type {
	case protocol.MsgReadings:
		p.handleReadings(rec)
	case protocol.MsgStatus:
		p.handleStatus(rec)
	case protocol.MsgEvent:
		p.handleEvent(rec)
	}
}

func (p *Publisher) handleReadings(rec DecodedRecord) {
	payload, err := protocol.DecodeReadings(rec.Payload)
	if err != nil {
		log.WithError(err).Debug("publish: malformed readings payload")
		return
	}

	id := rec.Header.DeviceID
	name := p.registry.LookupName(id)
	location := p.registry.LookupLocation(id)

	msg, kind := translate.Readings(id, name, location, rec.Header.Sequence, payload, rec.RSSI, rec.SNR, rec.ReceiveAt)
	p.registry.SetSensorKind(id, kind)

	if err := p.broker.PublishReadings(id.String(), msg); err != nil {
		log.WithError(err).WithField("device_id", id.String()).Warn("publish: readings publish failed")
	}

	if p.sidecar != nil {
		raw, _ := json.Marshal(payload)
		p.sidecar.MirrorPacket(sidecar.PacketPayload{
			DeviceID:    sidecar.DeviceIDDecimal(id),
			MsgType:     int16(protocol.MsgReadings),
			SequenceNum: int32(rec.Header.Sequence),
			RSSI:        int16(rec.RSSI),
			SNR:         int16(rec.SNR),
			Payload:     raw,
		})
	}
}

func (p *Publisher) handleStatus(rec DecodedRecord) {
	payload, err := protocol.DecodeStatus(rec.Payload)
	if err != nil {
		log.WithError(err).Debug("publish: malformed status payload")
		return
	}

	id := rec.Header.DeviceID
	if payload.Name != "" {
		p.registry.SetName(id, payload.Name)
	}
	if payload.Location != "" {
		p.registry.SetLocation(id, payload.Location)
	}
	p.registry.SetConfig(id, payload.ReadIntervalSec, payload.DeepSleepSec)

	msg := translate.Status(id, payload)
	if err := p.broker.PublishStatus(id.String(), msg); err != nil {
		log.WithError(err).WithField("device_id", id.String()).Warn("publish: status publish failed")
	}

	if p.sidecar != nil {
		if snap, ok := p.registry.Get(id); ok {
			p.sidecar.MirrorDevice(sidecar.DevicePayload{
				DeviceID:       sidecar.DeviceIDDecimal(id),
				Name:           snap.Name,
				Location:       snap.Location,
				SensorType:     string(snap.SensorKind),
				LastRSSI:       int16(snap.LastRSSI),
				LastSNR:        int16(snap.LastSNR),
				PacketCount:    int32(snap.PacketCount),
				LastSequence:   int32(snap.LastSequence),
				SensorInterval: int16(snap.ReadIntervalSec),
				DeepSleepSec:   int16(snap.DeepSleepSec),
			})
		}
	}
}

func (p *Publisher) handleEvent(rec DecodedRecord) {
	payload, err := protocol.DecodeEvent(rec.Payload)
	if err != nil {
		log.WithError(err).Debug("publish: malformed event payload")
		return
	}

	id := rec.Header.DeviceID
	if payload.EventType == protocol.EventStartup {
		p.registry.ClearDedup(id)
	}

	msg := translate.Event(id, payload)
	if err := p.broker.PublishEvent(id.String(), msg); err != nil {
		log.WithError(err).WithField("device_id", id.String()).Warn("publish: event publish failed")
	}

	if p.sidecar != nil {
		p.sidecar.MirrorEvent(sidecar.EventPayload{
			DeviceID:  sidecar.DeviceIDDecimal(id),
			EventType: int16(payload.EventType),
			Severity:  int16(payload.Severity),
			Message:   payload.Message,
		})
	}
}

func (p *Publisher) updateQueueDepth() {
	if p.metrics != nil {
		p.metrics.CommandQueueDepth.Set(float64(p.commands.Len()))
	}
}

// HandleCommand validates and enqueues an inbound command JSON payload,
// then publishes the queued acknowledgement. Wired as the broker's
// CommandHandler.
func (p *Publisher) HandleCommand(raw []byte) {
	var req translate.CommandRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.WithError(err).Warn("publish: malformed command json")
		return
	}

	id, cmdType, params, err := translate.Command(req)
	if err != nil {
		log.WithError(err).WithField("action", req.Action).Warn("publish: command validation failed")
		return
	}

	status := "queued"
	if err := p.commands.Enqueue(id, cmdType, params); err != nil {
		status = "failed"
		log.WithError(err).WithField("device_id", id.String()).Warn("publish: command enqueue failed")
	}
	p.updateQueueDepth()

	ack := translate.CommandAck{DeviceID: req.DeviceID, Action: req.Action, Status: status}
	if err := p.broker.PublishAck(ack); err != nil {
		log.WithError(err).Warn("publish: command ack publish failed")
	}

	if p.sidecar != nil {
		p.sidecar.MirrorCommand(sidecar.CommandPayload{
			DeviceID:    sidecar.DeviceIDDecimal(id),
			CommandType: int16(cmdType),
			Parameters:  string(params),
			Status:      status,
		})
	}
}

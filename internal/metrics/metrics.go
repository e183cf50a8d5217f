// Package metrics exposes the bridge's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Collector holds every counter the bridge exports. One instance lives for
// the process lifetime and is shared by both execution contexts.
type Collector struct {
	ReceivedOK         prometheus.Counter
	Dropped            prometheus.Counter
	DuplicatesFiltered prometheus.Counter
	CommandQueueDepth  prometheus.Gauge
	BrokerConnects     prometheus.Counter
	BrokerDisconnects  prometheus.Counter
	AckFailures        prometheus.Counter
}

// New registers and returns the bridge's counters against reg, scoped
// to an instance rather than the package-level default registry so tests
// can create independent collectors without colliding on registration.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		ReceivedOK: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lora_bridge",
			Subsystem: "receive",
			Name:      "frames_ok_total",
			Help:      "Frames successfully decoded, deduped, and enqueued.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lora_bridge",
			Subsystem: "receive",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped due to decode errors or a full decoded-record queue.",
		}),
		DuplicatesFiltered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lora_bridge",
			Subsystem: "receive",
			Name:      "frames_duplicate_total",
			Help:      "Frames filtered as duplicates by the registry dedup ring.",
		}),
		CommandQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lora_bridge",
			Subsystem: "command",
			Name:      "queue_depth",
			Help:      "Number of commands currently queued across all devices.",
		}),
		BrokerConnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lora_bridge",
			Subsystem: "broker",
			Name:      "connects_total",
			Help:      "Successful broker (re)connections.",
		}),
		BrokerDisconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lora_bridge",
			Subsystem: "broker",
			Name:      "disconnects_total",
			Help:      "Broker connection losses.",
		}),
		AckFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lora_bridge",
			Subsystem: "receive",
			Name:      "ack_failures_total",
			Help:      "ACK frame transmissions that failed after a successful receive.",
		}),
	}
}

// CounterValue reads a counter's current value. Used by the receive
// pipeline's periodic aggregate-stats log line; the counters themselves
// remain the canonical export on /metrics.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/lora-sensor-bridge/internal/config"
)

// when updating this template, keep it in sync with config.Config.
const configTemplate = `[general]
# Log level: debug=5, info=4, warning=3, error=2, fatal=1, panic=0.
log_level={{ .General.LogLevel }}

# Log as JSON instead of logfmt-style text.
log_json={{ .General.LogJSON }}

# Log file path (empty logs to stdout).
log_file="{{ .General.LogFile }}"


[radio]
# Address of the gateway's radio-attached microcontroller (the physical
# transceiver driver itself is out of scope; this just dials the stream
# it forwards already-framed bytes over).
dial_address="{{ .Radio.DialAddress }}"
acquire_timeout="{{ .Radio.AcquireTimeout }}"
rx_buffer_size={{ .Radio.RXBufferSize }}


[broker]
# MQTT broker address, e.g. tcp://localhost:1883.
server="{{ .Broker.Server }}"
username="{{ .Broker.Username }}"
password="{{ .Broker.Password }}"
qos={{ .Broker.QOS }}
client_id="{{ .Broker.ClientID }}"
ca_cert="{{ .Broker.CACert }}"
tls_cert="{{ .Broker.TLSCert }}"
tls_key="{{ .Broker.TLSKey }}"

# Topic prefix under which per-device readings/status/events are published.
topic_prefix="{{ .Broker.TopicPrefix }}"

# Inbound command topic and outbound ack / gateway status topics.
command_topic="{{ .Broker.CommandTopic }}"
ack_topic="{{ .Broker.AckTopic }}"
status_topic="{{ .Broker.StatusTopic }}"

keep_alive="{{ .Broker.KeepAlive }}"
retry_interval="{{ .Broker.RetryInterval }}"


[registry]
# Maximum number of distinct devices tracked at once.
capacity={{ .Registry.Capacity }}

# Size of the per-device duplicate-sequence ring.
dedup_ring_size={{ .Registry.DedupRing }}

# Path to the registry's persisted snapshot.
storage_path="{{ .Registry.StoragePath }}"


[command]
# Maximum number of outstanding queued commands.
queue_capacity={{ .Command.QueueCapacity }}

# Commands older than this are dropped unsent.
expiration="{{ .Command.Expiration }}"


[sidecar]
# Optional external HTTP recipient for best-effort mirroring (empty disables it).
url="{{ .Sidecar.URL }}"
queue_capacity={{ .Sidecar.QueueCapacity }}


[pipeline]
# Capacity of the bounded decoded-record queue between the receive and
# publish execution contexts.
queue_capacity={{ .Pipeline.QueueCapacity }}


[monitoring]
# Optional bind address for a /metrics + /health HTTP surface (empty disables it).
bind="{{ .Monitoring.Bind }}"
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the lora-bridge configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		if err := t.Execute(os.Stdout, &config.C); err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}

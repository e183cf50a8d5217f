// Package broker wraps the paho MQTT client, publishing the bridge's
// flat per-device readings/status/event JSON messages on a fixed topic
// set and consuming inbound commands from the command topic.
package broker

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-sensor-bridge/internal/metrics"
)

// CommandHandler is invoked with the raw payload of every message received
// on the command topic.
type CommandHandler func(payload []byte)

// Client is the bridge's MQTT collaborator: connect/reconnect, per-topic
// publish, and command-topic subscription.
type Client struct {
	config   Config
	conn     paho.Client
	onCmd    CommandHandler
	metrics  *metrics.Collector
	identity string
}

// NewClient builds a paho client (clean session: the bridge is
// single-instance and always wants a fresh session on reconnect) and
// connects once, synchronously, before returning.
func NewClient(cfg Config, identity string, onCmd CommandHandler, m *metrics.Collector) (*Client, error) {
	c := &Client{config: cfg, onCmd: onCmd, metrics: m, identity: identity}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Server)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)
	opts.SetOnConnectHandler(c.onConnected)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetWill(cfg.StatusTopic, string(c.offlinePayload()), cfg.QOS, true)

	tlsConfig, err := newTLSConfig(cfg.CACert, cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, errors.Wrap(err, "broker: load tls config")
	}
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	log.WithField("server", cfg.Server).Info("broker: connecting to mqtt server")
	c.conn = paho.NewClient(opts)
	if token := c.conn.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "broker: initial connect failed")
	}
	if m != nil {
		m.BrokerConnects.Inc()
	}
	return c, nil
}

// IsConnected reports whether the underlying paho client believes it has a
// live connection.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Reconnect attempts to reconnect if the connection is currently down.
// Called from the publish loop every retry interval.
func (c *Client) Reconnect() error {
	if c.conn.IsConnected() {
		return nil
	}
	if token := c.conn.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "broker: reconnect failed")
	}
	if c.metrics != nil {
		c.metrics.BrokerConnects.Inc()
	}
	return nil
}

func (c *Client) onConnected(_ paho.Client) {
	log.Info("broker: connected")

	if token := c.conn.Subscribe(c.config.CommandTopic, c.config.QOS, c.commandHandler); token.Wait() && token.Error() != nil {
		log.WithError(token.Error()).WithField("topic", c.config.CommandTopic).Error("broker: subscribe to command topic failed")
	}

	c.publishRetained(c.config.StatusTopic, c.onlinePayload())
}

func (c *Client) onConnectionLost(_ paho.Client, reason error) {
	log.WithError(reason).Warn("broker: connection lost")
	if c.metrics != nil {
		c.metrics.BrokerDisconnects.Inc()
	}
}

func (c *Client) commandHandler(_ paho.Client, msg paho.Message) {
	if c.onCmd != nil {
		c.onCmd(msg.Payload())
	}
}

// PublishReadings marshals msg (the message built by the caller's
// translate call) to JSON and publishes it on <prefix>/<hex-id>/readings.
func (c *Client) PublishReadings(hexID string, msg any) error {
	return c.publishJSON(c.topic(hexID, "readings"), msg)
}

// PublishStatus publishes on <prefix>/<hex-id>/status.
func (c *Client) PublishStatus(hexID string, msg any) error {
	return c.publishJSON(c.topic(hexID, "status"), msg)
}

// PublishEvent publishes on <prefix>/<hex-id>/events.
func (c *Client) PublishEvent(hexID string, msg any) error {
	return c.publishJSON(c.topic(hexID, "events"), msg)
}

// PublishAck publishes a command acknowledgement on the ack topic.
func (c *Client) PublishAck(msg any) error {
	return c.publishJSON(c.config.AckTopic, msg)
}

func (c *Client) topic(hexID, kind string) string {
	return fmt.Sprintf("%s%s/%s", c.config.TopicPrefix, hexID, kind)
}

func (c *Client) publishJSON(topic string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "broker: marshal message")
	}
	if token := c.conn.Publish(topic, c.config.QOS, false, data); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "broker: publish to %s", topic)
	}
	return nil
}

func (c *Client) publishRetained(topic string, payload []byte) {
	if token := c.conn.Publish(topic, c.config.QOS, true, payload); token.Wait() && token.Error() != nil {
		log.WithError(token.Error()).WithField("topic", topic).Error("broker: retained publish failed")
	}
}

type gatewayStatus struct {
	GatewayID string    `json:"gateway_id"`
	Address   string    `json:"address"`
	Version   string    `json:"version"`
	Online    bool      `json:"online"`
	StartedAt time.Time `json:"started_at"`
}

func (c *Client) onlinePayload() []byte {
	hostname, _ := os.Hostname()
	data, _ := json.Marshal(gatewayStatus{
		GatewayID: c.identity,
		Address:   hostname,
		Version:   c.config.Version,
		Online:    true,
		StartedAt: time.Now(),
	})
	return data
}

func (c *Client) offlinePayload() []byte {
	data, _ := json.Marshal(gatewayStatus{GatewayID: c.identity, Online: false})
	return data
}

// Close disconnects the client, waiting up to 250ms for in-flight publishes.
func (c *Client) Close() {
	c.conn.Disconnect(250)
}

func newTLSConfig(cafile, certFile, certKeyFile string) (*tls.Config, error) {
	if cafile == "" && certFile == "" && certKeyFile == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if cafile != "" {
		cacert, err := os.ReadFile(cafile)
		if err != nil {
			return nil, errors.Wrap(err, "broker: read ca cert")
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(cacert)
		tlsConfig.RootCAs = pool
	}

	if certFile != "" && certKeyFile != "" {
		kp, err := tls.LoadX509KeyPair(certFile, certKeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "broker: load tls key pair")
		}
		tlsConfig.Certificates = []tls.Certificate{kp}
	}

	return tlsConfig, nil
}

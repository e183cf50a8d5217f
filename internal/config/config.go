// Package config holds the bridge's startup configuration, loaded once
// by viper at startup and never hot-reloaded.
package config

import "time"

// Version is set by cmd/lora-bridge's root command from the value
// passed to Execute.
var Version string

// C holds the global configuration, populated by Load.
var C Config

// Config is the root configuration struct, unmarshaled from TOML /
// environment variables by viper. Every field carries an explicit
// mapstructure tag; viperBindEnvs falls back to the lower-cased field
// name only for an untagged field.
type Config struct {
	General    General    `mapstructure:"general"`
	Radio      Radio      `mapstructure:"radio"`
	Broker     Broker     `mapstructure:"broker"`
	Registry   Registry   `mapstructure:"registry"`
	Command    Command    `mapstructure:"command"`
	Sidecar    Sidecar    `mapstructure:"sidecar"`
	Pipeline   Pipeline   `mapstructure:"pipeline"`
	Monitoring Monitoring `mapstructure:"monitoring"`
}

// Pipeline holds the decoded-record queue's tunable: the bounded
// multi-producer/single-consumer channel between the receive and
// publish contexts.
type Pipeline struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// Monitoring holds the optional /metrics + /health HTTP surface's bind
// address (empty disables it).
type Monitoring struct {
	Bind string `mapstructure:"bind"`
}

// Radio holds the transport-level connection to the gateway's
// radio-attached microcontroller (the chip-level transceiver driver is
// external; this is just the stream address NetRadio dials).
type Radio struct {
	DialAddress    string        `mapstructure:"dial_address"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	RXBufferSize   int           `mapstructure:"rx_buffer_size"`
}

// General holds logging and process-wide settings.
type General struct {
	LogLevel int    `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
	LogFile  string `mapstructure:"log_file"`
}

// Broker holds the MQTT connection and topic configuration.
type Broker struct {
	Server        string        `mapstructure:"server"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	QOS           uint8         `mapstructure:"qos"`
	ClientID      string        `mapstructure:"client_id"`
	CACert        string        `mapstructure:"ca_cert"`
	TLSCert       string        `mapstructure:"tls_cert"`
	TLSKey        string        `mapstructure:"tls_key"`
	TopicPrefix   string        `mapstructure:"topic_prefix"`
	CommandTopic  string        `mapstructure:"command_topic"`
	AckTopic      string        `mapstructure:"ack_topic"`
	StatusTopic   string        `mapstructure:"status_topic"`
	KeepAlive     time.Duration `mapstructure:"keep_alive"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// Registry holds the device-registry tunables.
type Registry struct {
	Capacity    int    `mapstructure:"capacity"`
	DedupRing   int    `mapstructure:"dedup_ring_size"`
	StoragePath string `mapstructure:"storage_path"`
}

// Command holds the command-queue tunables.
type Command struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	Expiration    time.Duration `mapstructure:"expiration"`
}

// Sidecar holds the optional external mirroring endpoint.
type Sidecar struct {
	URL           string `mapstructure:"url"`
	QueueCapacity int    `mapstructure:"queue_capacity"`
}

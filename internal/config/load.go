package config

import (
	"bytes"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// SetDefaults registers the default value for every tunable.
func SetDefaults() {
	viper.SetDefault("general.log_level", 4)
	viper.SetDefault("general.log_json", false)
	viper.SetDefault("general.log_file", "")

	viper.SetDefault("radio.dial_address", "tcp://localhost:9000")
	viper.SetDefault("radio.acquire_timeout", 5*time.Second)
	viper.SetDefault("radio.rx_buffer_size", 16)

	viper.SetDefault("broker.server", "tcp://localhost:1883")
	viper.SetDefault("broker.qos", 0)
	viper.SetDefault("broker.client_id", "lora-sensor-bridge")
	viper.SetDefault("broker.topic_prefix", "esp-sensor-hub/")
	viper.SetDefault("broker.command_topic", "lora/command")
	viper.SetDefault("broker.ack_topic", "lora/command/ack")
	viper.SetDefault("broker.status_topic", "lora/gateway/status")
	viper.SetDefault("broker.keep_alive", 15*time.Second)
	viper.SetDefault("broker.retry_interval", 5*time.Second)

	viper.SetDefault("registry.capacity", 10)
	viper.SetDefault("registry.dedup_ring_size", 50)
	viper.SetDefault("registry.storage_path", "registry.json")

	viper.SetDefault("command.queue_capacity", 10)
	viper.SetDefault("command.expiration", 5*time.Minute)

	viper.SetDefault("sidecar.url", "")
	viper.SetDefault("sidecar.queue_capacity", 1000)

	viper.SetDefault("pipeline.queue_capacity", 100)

	viper.SetDefault("monitoring.bind", "")
}

// Load reads cfgFile (if non-empty) or searches the standard config
// paths, binds environment variables, and unmarshals into C.
func Load(cfgFile string) error {
	if cfgFile != "" {
		b, err := os.ReadFile(cfgFile)
		if err != nil {
			return err
		}
		viper.SetConfigType("toml")
		if err := viper.ReadConfig(bytes.NewBuffer(b)); err != nil {
			return err
		}
	} else {
		viper.SetConfigName("lora-bridge")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/lora-bridge")
		viper.AddConfigPath("/etc/lora-bridge")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Warning("no configuration file found, using defaults")
			} else {
				return err
			}
		}
	}

	for _, pair := range os.Environ() {
		d := strings.SplitN(pair, "=", 2)
		if strings.Contains(d[0], ".") {
			underscoreName := strings.ReplaceAll(d[0], ".", "__")
			if _, exists := os.LookupEnv(underscoreName); !exists {
				os.Setenv(underscoreName, d[1])
			}
		}
	}

	viperBindEnvs(C)

	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	return viper.Unmarshal(&C, viper.DecodeHook(hooks))
}

// viperBindEnvs recurses into C's nested structs, binding each leaf
// field to its dotted viper key and the matching double-underscore
// environment variable name.
func viperBindEnvs(iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			tv = strings.ToLower(t.Name)
		}
		if tv == "-" {
			continue
		}

		switch v.Kind() {
		case reflect.Struct:
			viperBindEnvs(v.Interface(), append(parts, tv)...)
		default:
			keyDot := strings.Join(append(parts, tv), ".")
			keyUnderscore := strings.Join(append(parts, tv), "__")
			viper.BindEnv(keyDot, strings.ToUpper(keyUnderscore))
		}
	}
}

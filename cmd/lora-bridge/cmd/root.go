package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brocaar/lora-sensor-bridge/internal/config"
)

var (
	cfgFile string
	version string
)

var rootCmd = &cobra.Command{
	Use:   "lora-bridge",
	Short: "LoRa sensor-hub to MQTT bridge",
	Long: `lora-bridge receives framed LoRa sensor telemetry, maintains a device
	registry, and republishes readings/status/events to an MQTT broker while
	accepting commands for delivery back to the sensors.`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	rootCmd.PersistentFlags().Int("log-level", 4, "debug=5, info=4, warning=3, error=2, fatal=1, panic=0")
	viper.BindPFlag("general.log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	config.SetDefaults()

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// Execute runs the root command.
func Execute(v string) {
	version = v
	config.Version = v
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		log.WithError(err).Fatal("load configuration error")
	}
}

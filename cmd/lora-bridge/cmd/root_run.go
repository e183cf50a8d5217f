package cmd

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/brocaar/lora-sensor-bridge/internal/broker"
	"github.com/brocaar/lora-sensor-bridge/internal/command"
	"github.com/brocaar/lora-sensor-bridge/internal/config"
	"github.com/brocaar/lora-sensor-bridge/internal/logging"
	"github.com/brocaar/lora-sensor-bridge/internal/metrics"
	"github.com/brocaar/lora-sensor-bridge/internal/monitoring"
	"github.com/brocaar/lora-sensor-bridge/internal/pipeline"
	"github.com/brocaar/lora-sensor-bridge/internal/radio"
	"github.com/brocaar/lora-sensor-bridge/internal/registry"
	"github.com/brocaar/lora-sensor-bridge/internal/sidecar"
	"github.com/brocaar/lora-sensor-bridge/internal/watchdog"
)

// run wires every collaborator and drives the two execution contexts
// until a termination signal arrives.
func run(cmd *cobra.Command, args []string) error {
	runID := uuid.New().String()
	entry := logging.Setup(logging.Config{
		Level:    config.C.General.LogLevel,
		JSON:     config.C.General.LogJSON,
		FilePath: config.C.General.LogFile,
	}, runID)
	entry.WithField("version", version).Info("starting lora-bridge")

	fs := afero.NewOsFs()

	identity, err := registry.LoadOrCreateIdentity(fs, registry.IdentityPath(config.C.Registry.StoragePath))
	if err != nil {
		return errors.Wrap(err, "load gateway identity")
	}

	persister := registry.NewFilePersister(fs, config.C.Registry.StoragePath)
	loaded, err := registry.Load(fs, config.C.Registry.StoragePath)
	if err != nil {
		return errors.Wrap(err, "load persisted registry")
	}
	reg := registry.New(config.C.Registry.Capacity, config.C.Registry.DedupRing, persister)
	reg.Seed(loaded)

	mcol := metrics.New(prometheus.DefaultRegisterer)

	netRadio := radio.NewNetRadio(config.C.Radio.DialAddress, config.C.Radio.RXBufferSize)
	if err := netRadio.Begin(); err != nil {
		return errors.Wrap(err, "connect to radio")
	}
	arbiter := radio.NewArbiter(netRadio)

	transmitter := command.NewTransmitter(arbiter)
	cmdQueue := command.New(config.C.Command.QueueCapacity, transmitter)

	sidecarClient := sidecar.New(config.C.Sidecar.URL, config.C.Sidecar.QueueCapacity)

	decodedQueue := pipeline.NewQueue(config.C.Pipeline.QueueCapacity)

	// The broker's command-topic callback and the publisher that services
	// it have a circular dependency: the client needs a handler before it
	// connects, the handler needs the publisher that wraps the client.
	// A mutex-guarded indirection breaks the cycle without risking a nil
	// dereference if a command arrives before wiring finishes.
	var handlerMu sync.Mutex
	var handleCommand func([]byte)
	onCommand := func(payload []byte) {
		handlerMu.Lock()
		h := handleCommand
		handlerMu.Unlock()
		if h != nil {
			h(payload)
		}
	}

	brokerClient, err := broker.NewClient(brokerConfig(config.C.Broker), identity, onCommand, mcol)
	if err != nil {
		return errors.Wrap(err, "connect to broker")
	}

	wd := watchdog.New(watchdog.DefaultInterval)

	publisher := pipeline.NewPublisher(brokerClient, reg, decodedQueue, cmdQueue, sidecarClient, mcol, wd.Register("publish"))
	handlerMu.Lock()
	handleCommand = publisher.HandleCommand
	handlerMu.Unlock()

	receiver := pipeline.NewReceiver(arbiter, reg, decodedQueue, mcol, wd.Register("receive"))

	monitoring.Setup(config.C.Monitoring.Bind, brokerClient)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); receiver.Run(stop) }()
	go func() { defer wg.Done(); publisher.Run(stop) }()
	go wd.Run(stop)
	if sidecarClient.Enabled() {
		wg.Add(1)
		go func() { defer wg.Done(); sidecarClient.Run(stop) }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	log.WithField("signal", <-sigChan).Info("signal received, stopping")

	close(stop)
	waitWithTimeout(&wg, 5*time.Second)

	brokerClient.Close()
	_ = netRadio.Close()

	return nil
}

// brokerConfig adapts the duration-typed viper-facing broker config to
// the second-typed fields broker.Config exposes. KeepAlive feeds paho's
// keep-alive; RetryInterval is carried along but not read, since the
// publish loop reconnects on its own fixed 5 s interval.
func brokerConfig(c config.Broker) broker.Config {
	return broker.Config{
		Server:        c.Server,
		Username:      c.Username,
		Password:      c.Password,
		QOS:           c.QOS,
		ClientID:      c.ClientID,
		CACert:        c.CACert,
		TLSCert:       c.TLSCert,
		TLSKey:        c.TLSKey,
		TopicPrefix:   c.TopicPrefix,
		CommandTopic:  c.CommandTopic,
		AckTopic:      c.AckTopic,
		StatusTopic:   c.StatusTopic,
		KeepAlive:     int(c.KeepAlive / time.Second),
		RetryInterval: int(c.RetryInterval / time.Second),
		Version:       config.Version,
	}
}

// waitWithTimeout waits for wg to drain, giving up after timeout so a
// stuck I/O call in one of the two execution contexts can't hang shutdown
// indefinitely.
func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("shutdown: execution contexts did not stop within timeout, exiting anyway")
	}
}

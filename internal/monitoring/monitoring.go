// Package monitoring exposes the bridge's in-memory counters and broker
// connection state over HTTP: /metrics for Prometheus scrapes and
// /health for the external admin surface. The admin UI itself is not
// part of this repo.
package monitoring

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// BrokerStater reports broker connectivity for the health endpoint,
// satisfied by *broker.Client without monitoring needing to import it.
type BrokerStater interface {
	IsConnected() bool
}

type healthResponse struct {
	BrokerConnected bool `json:"broker_connected"`
}

// Setup starts an HTTP server on bind (no-op if bind is empty) serving
// /metrics (Prometheus text exposition) and /health (broker connection
// state). Runs on its own goroutine; a listen failure is logged, not
// fatal, since the bridge's own operation does not depend on this
// surface.
func Setup(bind string, broker BrokerStater) {
	if bind == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{BrokerConnected: broker.IsConnected()})
	})

	server := &http.Server{Addr: bind, Handler: mux}
	log.WithField("bind", bind).Info("monitoring: starting metrics/health server")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("monitoring: server error")
		}
	}()
}

// Package metricsexport exposes plexy's tunnel and remote counters as
// Prometheus metrics, grounded on original_source src/metrics.rs (an
// opentelemetry + hyper + prometheus exporter) and on
// github.com/prometheus/client_golang, the metrics stack jessesanford-kcp's
// go.mod pulls in for the same purpose.
package metricsexport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaymesh/plexy/internal/tunnelstate"
)

// Engine is the subset of *daemon.Daemon the metrics collector needs.
type Engine interface {
	Status(localText string) (map[string]tunnelstate.TunnelStats, error)
}

// collector implements prometheus.Collector by pulling a fresh snapshot
// from the engine on every scrape rather than maintaining its own counters,
// the same "collect on Collect" pattern used for metrics derived from an
// authoritative external store instead of being incremented inline.
type collector struct {
	engine Engine

	clientsConnected *prometheus.Desc
	clientsServed    *prometheus.Desc
	bytesSent        *prometheus.Desc
	bytesReceived    *prometheus.Desc
	remotesLive      *prometheus.Desc
	remotesDead      *prometheus.Desc
	remoteStreams    *prometheus.Desc
	remoteRetries    *prometheus.Desc
	remoteErrors     *prometheus.Desc
}

func newCollector(engine Engine) *collector {
	return &collector{
		engine: engine,
		clientsConnected: prometheus.NewDesc(
			"plexy_tunnel_clients_connected", "Currently open client connections for a tunnel.",
			[]string{"local"}, nil),
		clientsServed: prometheus.NewDesc(
			"plexy_tunnel_clients_served_total", "Total client connections served by a tunnel.",
			[]string{"local"}, nil),
		bytesSent: prometheus.NewDesc(
			"plexy_tunnel_bytes_sent_total", "Total bytes sent from clients to remotes.",
			[]string{"local"}, nil),
		bytesReceived: prometheus.NewDesc(
			"plexy_tunnel_bytes_received_total", "Total bytes received from remotes by clients.",
			[]string{"local"}, nil),
		remotesLive: prometheus.NewDesc(
			"plexy_tunnel_remotes_live", "Number of currently live remotes for a tunnel.",
			[]string{"local"}, nil),
		remotesDead: prometheus.NewDesc(
			"plexy_tunnel_remotes_dead", "Number of currently dead remotes for a tunnel.",
			[]string{"local"}, nil),
		remoteStreams: prometheus.NewDesc(
			"plexy_remote_streams_open", "Currently open streams to a remote.",
			[]string{"local", "remote"}, nil),
		remoteRetries: prometheus.NewDesc(
			"plexy_remote_retries_total", "Consecutive failed connection attempts to a remote.",
			[]string{"local", "remote"}, nil),
		remoteErrors: prometheus.NewDesc(
			"plexy_remote_errors_total", "Lifetime failed connection attempts to a remote, never reset on recovery.",
			[]string{"local", "remote"}, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.clientsConnected
	ch <- c.clientsServed
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.remotesLive
	ch <- c.remotesDead
	ch <- c.remoteStreams
	ch <- c.remoteRetries
	ch <- c.remoteErrors
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	stats, err := c.engine.Status("")
	if err != nil {
		return
	}
	for local, t := range stats {
		ch <- prometheus.MustNewConstMetric(c.clientsConnected, prometheus.GaugeValue, float64(t.ClientsConnected), local)
		ch <- prometheus.MustNewConstMetric(c.clientsServed, prometheus.CounterValue, float64(t.ClientsServed), local)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(t.BytesSent), local)
		ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(t.BytesReceived), local)
		ch <- prometheus.MustNewConstMetric(c.remotesLive, prometheus.GaugeValue, float64(len(t.Remotes)), local)
		ch <- prometheus.MustNewConstMetric(c.remotesDead, prometheus.GaugeValue, float64(len(t.DeadRemotes)), local)
		for _, r := range t.Remotes {
			ch <- prometheus.MustNewConstMetric(c.remoteStreams, prometheus.GaugeValue, float64(r.StreamsOpen), local, r.Address)
			ch <- prometheus.MustNewConstMetric(c.remoteRetries, prometheus.CounterValue, float64(r.Retries), local, r.Address)
			ch <- prometheus.MustNewConstMetric(c.remoteErrors, prometheus.CounterValue, float64(r.Errors), local, r.Address)
		}
	}
}

// Handler returns an http.Handler serving Prometheus text-format metrics at
// whatever path the caller mounts it on (conventionally "/metrics").
func Handler(engine Engine) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(engine))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

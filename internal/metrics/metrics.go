// Package metrics exposes operational counters for the connection lifecycle
// over a Prometheus scrape endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Collector holds the lifecycle metrics. A nil *Collector is a valid no-op,
// callers never guard their recording calls.
type Collector struct {
	log      *logrus.Logger
	registry *prometheus.Registry

	packets         *prometheus.CounterVec
	connects        prometheus.Counter
	connectFailures prometheus.Counter
	cooldowns       prometheus.Counter
	lastReport      prometheus.Gauge
}

// NewCollector creates and registers the lifecycle metrics on a private
// registry.
func NewCollector(log *logrus.Logger) *Collector {
	c := &Collector{
		log:      log,
		registry: prometheus.NewRegistry(),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spintouch_packets_total",
			Help: "Result packets received, by decode outcome.",
		}, []string{"outcome"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spintouch_connects_total",
			Help: "Successful BLE connections.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spintouch_connect_failures_total",
			Help: "Failed BLE connection attempts.",
		}),
		cooldowns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spintouch_cooldowns_total",
			Help: "Cooldown windows entered after a completed read.",
		}),
		lastReport: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spintouch_last_report_timestamp_seconds",
			Help: "Report time of the most recent accepted reading.",
		}),
	}

	c.registry.MustRegister(
		c.packets,
		c.connects,
		c.connectFailures,
		c.cooldowns,
		c.lastReport,
	)
	return c
}

// Serve starts the scrape endpoint in the background. listen is a host:port
// address.
func (c *Collector) Serve(listen string) {
	if c == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	c.log.WithField("listen", listen).Info("Starting metrics endpoint")
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			c.log.WithError(err).Error("Metrics endpoint failed")
		}
	}()
}

// RecordPacket counts one received packet by outcome string.
func (c *Collector) RecordPacket(outcome string) {
	if c == nil {
		return
	}
	c.packets.WithLabelValues(outcome).Inc()
}

// RecordConnect counts a successful connection.
func (c *Collector) RecordConnect() {
	if c == nil {
		return
	}
	c.connects.Inc()
}

// RecordConnectFailure counts a failed connection attempt.
func (c *Collector) RecordConnectFailure() {
	if c == nil {
		return
	}
	c.connectFailures.Inc()
}

// RecordCooldown counts entry into the post-read cooldown window.
func (c *Collector) RecordCooldown() {
	if c == nil {
		return
	}
	c.cooldowns.Inc()
}

// RecordReportTime publishes the report time of the latest accepted reading.
func (c *Collector) RecordReportTime(t time.Time) {
	if c == nil {
		return
	}
	c.lastReport.Set(float64(t.Unix()))
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/stackveil/internal/stats"
)

// Snapshotter is anything that can produce a stats snapshot.
type Snapshotter interface {
	Snapshot() stats.Snapshot
}

// Collector exposes the engine counters to Prometheus. Values are read at
// scrape time, so nothing has to be pushed from the hot path.
type Collector struct {
	source Snapshotter

	tcpModified    *prometheus.Desc
	tcpEstablished *prometheus.Desc
	tcpErrors      *prometheus.Desc

	helloSeen     *prometheus.Desc
	helloModified *prometheus.Desc
	tlsErrors     *prometheus.Desc
	tlsPassed     *prometheus.Desc

	uptime *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector reading from source.
func NewCollector(source Snapshotter) *Collector {
	return &Collector{
		source: source,

		tcpModified: prometheus.NewDesc("stackveil_tcp_connections_modified_total",
			"Outbound connections that completed a profile mutation pass", nil, nil),
		tcpEstablished: prometheus.NewDesc("stackveil_tcp_packets_processed_total",
			"Established connection notifications (counts connections, not packets)", nil, nil),
		tcpErrors: prometheus.NewDesc("stackveil_tcp_errors_total",
			"Socket option mutations that failed", nil, nil),

		helloSeen: prometheus.NewDesc("stackveil_tls_client_hello_seen_total",
			"TLS ClientHello records recognised by the packet parser", nil, nil),
		helloModified: prometheus.NewDesc("stackveil_tls_client_hello_modified_total",
			"ClientHello matches handed to the rewrite trigger", nil, nil),
		tlsErrors: prometheus.NewDesc("stackveil_tls_errors_total",
			"ClientHello trigger failures", nil, nil),
		tlsPassed: prometheus.NewDesc("stackveil_tls_packets_passed_total",
			"Port 443 connects tagged for a JA3 profile", nil, nil),

		uptime: prometheus.NewDesc("stackveil_uptime_seconds",
			"Seconds since the counters were created", nil, nil),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tcpModified
	ch <- c.tcpEstablished
	ch <- c.tcpErrors
	ch <- c.helloSeen
	ch <- c.helloModified
	ch <- c.tlsErrors
	ch <- c.tlsPassed
	ch <- c.uptime
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Snapshot()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	counter(c.tcpModified, s.TCP.ConnectionsModified)
	counter(c.tcpEstablished, s.TCP.PacketsProcessed)
	counter(c.tcpErrors, s.TCP.Errors)

	counter(c.helloSeen, s.TLS.ClientHelloSeen)
	counter(c.helloModified, s.TLS.ClientHelloModified)
	counter(c.tlsErrors, s.TLS.Errors)
	counter(c.tlsPassed, s.TLS.PacketsPassed)

	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, s.Uptime.Seconds())
}

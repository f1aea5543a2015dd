// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package stats holds the engine's monotonic counters.
//
// Counters are only ever incremented. Each counter is individually
// linearisable; there is no cross-counter atomicity, so a snapshot may show
// ClientHelloSeen ahead of ClientHelloModified for a moment.
package stats

import (
	"sync/atomic"
	"time"
)

// TCPCounters is the connection-side record.
type TCPCounters struct {
	ConnectionsModified atomic.Uint64
	// PacketsProcessed counts fully established connections, not packets.
	// The name is kept so it lines up with the kernel-side record.
	PacketsProcessed atomic.Uint64
	Errors           atomic.Uint64
}

// TLSCounters is the ClientHello-side record.
type TLSCounters struct {
	ClientHelloSeen     atomic.Uint64
	ClientHelloModified atomic.Uint64
	Errors              atomic.Uint64
	PacketsPassed       atomic.Uint64
}

// Collector owns the two single-slot counter records for the process.
type Collector struct {
	TCP TCPCounters
	TLS TLSCounters

	startedAt time.Time
}

// NewCollector creates a zeroed collector.
func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

// TCPSnapshot is a point-in-time copy of TCPCounters.
type TCPSnapshot struct {
	ConnectionsModified uint64 `json:"connections_modified"`
	PacketsProcessed    uint64 `json:"packets_processed"`
	Errors              uint64 `json:"errors"`
}

// TLSSnapshot is a point-in-time copy of TLSCounters.
type TLSSnapshot struct {
	ClientHelloSeen     uint64 `json:"client_hello_seen"`
	ClientHelloModified uint64 `json:"client_hello_modified"`
	Errors              uint64 `json:"errors"`
	PacketsPassed       uint64 `json:"packets_passed"`
}

// Snapshot is what the reporting side polls.
type Snapshot struct {
	TCP       TCPSnapshot   `json:"tcp"`
	TLS       TLSSnapshot   `json:"tls"`
	Uptime    time.Duration `json:"uptime"`
	Timestamp time.Time     `json:"timestamp"`
}

// Snapshot reads every counter once.
func (c *Collector) Snapshot() Snapshot {
	now := time.Now()
	return Snapshot{
		TCP: TCPSnapshot{
			ConnectionsModified: c.TCP.ConnectionsModified.Load(),
			PacketsProcessed:    c.TCP.PacketsProcessed.Load(),
			Errors:              c.TCP.Errors.Load(),
		},
		TLS: TLSSnapshot{
			ClientHelloSeen:     c.TLS.ClientHelloSeen.Load(),
			ClientHelloModified: c.TLS.ClientHelloModified.Load(),
			Errors:              c.TLS.Errors.Load(),
			PacketsPassed:       c.TLS.PacketsPassed.Load(),
		},
		Uptime:    now.Sub(c.startedAt),
		Timestamp: now,
	}
}

// Increment bumps a single counter by one. It exists so callers holding a
// counter reference don't need to know which record it belongs to.
func Increment(counter *atomic.Uint64) {
	counter.Add(1)
}

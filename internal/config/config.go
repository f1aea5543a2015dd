// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the stackveil configuration: engine policies,
// logging, metrics, profile storage and the profiles themselves.
package config

import (
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/metrics"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Config is the top-level structure.
type Config struct {
	// Schema version for backward compatibility.
	// @default: "1.0"
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty" yaml:"schema_version,omitempty"`

	Engine  *EngineConfig         `hcl:"engine,block" json:"engine,omitempty" yaml:"engine,omitempty"`
	Logging *LoggingConfig        `hcl:"logging,block" json:"logging,omitempty" yaml:"logging,omitempty"`
	Syslog  *logging.SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty" yaml:"syslog,omitempty"`
	Metrics *MetricsConfig        `hcl:"metrics,block" json:"metrics,omitempty" yaml:"metrics,omitempty"`
	BPF     *BPFConfig            `hcl:"bpf,block" json:"bpf,omitempty" yaml:"bpf,omitempty"`

	TCPProfiles []TCPProfileConfig `hcl:"tcp_profile,block" json:"tcp_profile,omitempty" yaml:"tcp_profile,omitempty"`
	JA3Profiles []JA3ProfileConfig `hcl:"ja3_profile,block" json:"ja3_profile,omitempty" yaml:"ja3_profile,omitempty"`
}

// EngineConfig selects the connection handler policies.
type EngineConfig struct {
	// When an outbound connect counts as modified.
	// @enum: end_of_sequence, all_applied
	// @default: "end_of_sequence"
	SuccessPolicy string `hcl:"success_policy,optional" json:"success_policy,omitempty" yaml:"success_policy,omitempty"`
	// How much of a profile applies to accepted connections.
	// @enum: window_clamp_only, full
	// @default: "window_clamp_only"
	PassivePolicy string `hcl:"passive_policy,optional" json:"passive_policy,omitempty" yaml:"passive_policy,omitempty"`
	// Buffered ClientHello triggers. 0 disables the trigger queue.
	// @default: 0
	TriggerQueue int `hcl:"trigger_queue,optional" json:"trigger_queue,omitempty" yaml:"trigger_queue,omitempty"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// @enum: debug, info, warn, error
	// @default: "info"
	Level string `hcl:"level,optional" json:"level,omitempty" yaml:"level,omitempty"`
	// @default: false
	JSON bool `hcl:"json,optional" json:"json,omitempty" yaml:"json,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// @default: "127.0.0.1:9469"
	Listen string `hcl:"listen,optional" json:"listen,omitempty" yaml:"listen,omitempty"`
	// Also export Go runtime and process collectors.
	// @default: false
	RuntimeMetrics bool `hcl:"runtime_metrics,optional" json:"runtime_metrics,omitempty" yaml:"runtime_metrics,omitempty"`
}

// ExportConfig converts to the exporter's settings.
func (m *MetricsConfig) ExportConfig() metrics.ExportConfig {
	cfg := metrics.DefaultExportConfig()
	if m == nil {
		return cfg
	}
	if m.Listen != "" {
		cfg.Listen = m.Listen
	}
	cfg.RuntimeMetrics = m.RuntimeMetrics
	return cfg
}

// BPFConfig selects BPF-map profile storage. Without this block profiles
// live in process memory.
type BPFConfig struct {
	// Directory holding the pinned tcp_profiles and ja3_profiles maps.
	// Empty creates fresh unpinned maps.
	// @example: "/sys/fs/bpf/stackveil"
	PinDir string `hcl:"pin_dir,optional" json:"pin_dir,omitempty" yaml:"pin_dir,omitempty"`
}

// TCPProfileConfig is one tcp_profile block. Zero fields leave the kernel
// default in place.
type TCPProfileConfig struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`
	PID  uint32 `hcl:"pid" json:"pid" yaml:"pid"`

	WindowSize              uint16 `hcl:"window_size,optional" json:"window_size,omitempty" yaml:"window_size,omitempty"`
	TTL                     uint8  `hcl:"ttl,optional" json:"ttl,omitempty" yaml:"ttl,omitempty"`
	MSS                     uint16 `hcl:"mss,optional" json:"mss,omitempty" yaml:"mss,omitempty"`
	WindowScale             uint8  `hcl:"window_scale,optional" json:"window_scale,omitempty" yaml:"window_scale,omitempty"`
	SACKPermitted           bool   `hcl:"sack_permitted,optional" json:"sack_permitted,omitempty" yaml:"sack_permitted,omitempty"`
	Timestamps              bool   `hcl:"timestamps,optional" json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
	NoDelay                 bool   `hcl:"no_delay,optional" json:"no_delay,omitempty" yaml:"no_delay,omitempty"`
	InitialCongestionWindow uint32 `hcl:"initial_congestion_window,optional" json:"initial_congestion_window,omitempty" yaml:"initial_congestion_window,omitempty"`
	ECN                     bool   `hcl:"ecn,optional" json:"ecn,omitempty" yaml:"ecn,omitempty"`
	FastOpen                bool   `hcl:"fast_open,optional" json:"fast_open,omitempty" yaml:"fast_open,omitempty"`
}

// JA3ProfileConfig is one ja3_profile block.
type JA3ProfileConfig struct {
	Name string `hcl:"name,label" json:"name" yaml:"name"`
	PID  uint32 `hcl:"pid" json:"pid" yaml:"pid"`

	// @example: 771
	TLSVersion   uint16   `hcl:"tls_version" json:"tls_version" yaml:"tls_version"`
	Ciphers      []uint16 `hcl:"ciphers,optional" json:"ciphers,omitempty" yaml:"ciphers,omitempty"`
	Extensions   []uint16 `hcl:"extensions,optional" json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Curves       []uint16 `hcl:"curves,optional" json:"curves,omitempty" yaml:"curves,omitempty"`
	// Each point format must fit in a byte.
	PointFormats []uint16 `hcl:"point_formats,optional" json:"point_formats,omitempty" yaml:"point_formats,omitempty"`
	// @default: true
	Enabled *bool `hcl:"enabled,optional" json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled treats an omitted enabled attribute as true.
func (j JA3ProfileConfig) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// Default returns a config with every block populated with defaults.
func Default() *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		Engine: &EngineConfig{
			SuccessPolicy: "end_of_sequence",
			PassivePolicy: "window_clamp_only",
		},
		Logging: &LoggingConfig{Level: "info"},
		Metrics: &MetricsConfig{Listen: metrics.DefaultExportConfig().Listen},
	}
}

// applyDefaults fills blocks the file left out.
func (c *Config) applyDefaults() {
	def := Default()
	if c.SchemaVersion == "" {
		c.SchemaVersion = def.SchemaVersion
	}
	if c.Engine == nil {
		c.Engine = def.Engine
	}
	if c.Logging == nil {
		c.Logging = def.Logging
	}
	if c.Metrics == nil {
		c.Metrics = def.Metrics
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = def.Metrics.Listen
	}
}

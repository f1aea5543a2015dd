// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "/etc/stackveil/stackveil.hcl"

// Flags are the command-line settings shared by every subcommand. Non-empty
// values override the file.
type Flags struct {
	ConfigPath    string
	LogLevel      string
	LogJSON       bool
	MetricsListen string
	PID           uint32
}

// BindFlags registers the shared flags on cmd and its children.
func (f *Flags) BindFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.ConfigPath, "config", "c", DefaultConfigPath, "Path to the configuration file (.hcl, .json, .yaml)")
	pf.StringVar(&f.LogLevel, "log-level", f.LogLevel, "Log level override (debug, info, warn, error)")
	pf.BoolVar(&f.LogJSON, "log-json", f.LogJSON, "Emit JSON logs")
	pf.StringVar(&f.MetricsListen, "metrics-listen", f.MetricsListen, "Metrics listen address override")
	pf.Uint32Var(&f.PID, "pid", f.PID, "Process identifier whose profiles to use")
}

// Apply copies overrides into cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}
	if f.LogJSON {
		cfg.Logging.JSON = true
	}
	if f.MetricsListen != "" {
		cfg.Metrics.Listen = f.MetricsListen
		cfg.Metrics.Enabled = true
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

// SyslogConfig configures forwarding of log output to a remote syslog daemon.
type SyslogConfig struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled" yaml:"enabled"`
	Host     string `hcl:"host,optional" json:"host" yaml:"host"`
	Port     int    `hcl:"port,optional" json:"port" yaml:"port"`
	Protocol string `hcl:"protocol,optional" json:"protocol" yaml:"protocol"`
	Tag      string `hcl:"tag,optional" json:"tag" yaml:"tag"`
	Facility int    `hcl:"facility,optional" json:"facility" yaml:"facility"`
}

// DefaultSyslogConfig returns a disabled UDP/514 config using the user facility.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "stackveil",
		Facility: 1,
	}
}

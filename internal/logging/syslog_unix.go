// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !windows && !plan9

package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"net"
	"strconv"
)

// NewSyslogWriter dials the configured syslog daemon. Missing port, protocol
// and tag are defaulted; a missing host is an error.
func NewSyslogWriter(cfg SyslogConfig) (io.WriteCloser, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "stackveil"
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	prio := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	w, err := syslog.Dial(cfg.Protocol, addr, prio, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to dial syslog %s: %w", addr, err)
	}
	return w, nil
}

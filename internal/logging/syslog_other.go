// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build windows || plan9

package logging

import (
	"fmt"
	"io"
)

// NewSyslogWriter is not available on this platform.
func NewSyslogWriter(cfg SyslogConfig) (io.WriteCloser, error) {
	return nil, fmt.Errorf("syslog is not supported on this platform")
}

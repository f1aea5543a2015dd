// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package cmd implements the stackveil subcommands.
package cmd

import (
	"io"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/logging"
)

// SetupLogging builds the process logger from cfg and installs it as the
// default. When syslog forwarding is enabled the returned closer releases the
// connection; otherwise it is a no-op.
func SetupLogging(cfg *config.Config, stderr io.Writer) (*logging.Logger, io.Closer, error) {
	lc := logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Output: stderr,
		JSON:   cfg.Logging.JSON,
	}

	var closer io.Closer = nopCloser{}
	if cfg.Syslog != nil && cfg.Syslog.Enabled {
		w, err := logging.NewSyslogWriter(*cfg.Syslog)
		if err != nil {
			return nil, nil, err
		}
		lc.Output = io.MultiWriter(stderr, w)
		closer = w
	}

	logger := logging.New(lc)
	logging.SetDefault(logger)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"net"
	"strings"

	"golang.org/x/sync/errgroup"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/engine"
	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/hello"
	"grimm.is/stackveil/internal/hooks"
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/metrics"
)

// RelaySpec is a "listen=target" pair for the run command.
type RelaySpec struct {
	Listen string
	Target string
}

// ParseRelay parses "listen=target", both as host:port.
func ParseRelay(s string) (RelaySpec, error) {
	listen, target, ok := strings.Cut(s, "=")
	if !ok {
		return RelaySpec{}, errors.Errorf(errors.KindValidation, "relay %q: want listen=target", s)
	}
	for _, addr := range []string{listen, target} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return RelaySpec{}, errors.Wrapf(err, errors.KindValidation, "relay %q", s)
		}
	}
	return RelaySpec{Listen: listen, Target: target}, nil
}

// RunOptions configure RunServe.
type RunOptions struct {
	Relays []RelaySpec
	// PID attributes relayed connections to another process's profiles.
	// Zero uses this process.
	PID uint32
	// OnStart is called once the engine is running and listeners are open.
	OnStart func(*engine.Engine)
}

// RunServe applies cfg, starts the engine and serves until ctx is cancelled.
func RunServe(ctx context.Context, cfg *config.Config, opts RunOptions, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}

	eng, err := engine.FromConfig(cfg, logger.WithComponent("engine"), engine.WithPID(opts.PID))
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Apply(ctx, cfg)
	if err != nil {
		return err
	}
	for _, name := range res.Order {
		if sr := res.StageResults[name]; !sr.Success {
			logger.Warn("Optional stage failed", "stage", name, "error", sr.Error)
		}
	}

	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	listeners, err := openRelays(ctx, eng, opts.Relays)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		exp := metrics.NewExporter(eng, cfg.Metrics.ExportConfig(), logger.WithComponent("metrics"))
		g.Go(func() error { return exp.Run(ctx) })
	}

	if triggers := eng.Triggers(); triggers != nil {
		tl := logger.WithComponent("trigger")
		g.Go(func() error {
			drainTriggers(ctx, triggers, tl)
			return nil
		})
	}

	for i, ln := range listeners {
		spec := opts.Relays[i]
		r := &hooks.Relay{
			Target: spec.Target,
			Dialer: eng.Dialer(),
			Logger: logger.WithComponent("relay").With("listen", ln.Addr().String()),
		}
		logger.Info("Relay listening", "listen", ln.Addr().String(), "target", spec.Target)
		g.Go(func() error { return r.Serve(ctx, ln) })
	}

	if opts.OnStart != nil {
		opts.OnStart(eng)
	}

	logger.Info("stackveil running", "config", cfg.String(), "relays", len(opts.Relays), "pid", opts.PID)

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err = g.Wait()
	snap := eng.Snapshot()
	logger.Info("stackveil stopping",
		"connections_modified", snap.TCP.ConnectionsModified,
		"tcp_errors", snap.TCP.Errors,
		"client_hello_seen", snap.TLS.ClientHelloSeen)
	return err
}

// openRelays opens every relay listener, or none.
func openRelays(ctx context.Context, eng *engine.Engine, specs []RelaySpec) ([]net.Listener, error) {
	var listeners []net.Listener
	for _, spec := range specs {
		ln, err := eng.Listen(ctx, "tcp", spec.Listen)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, errors.Wrapf(err, errors.KindUnavailable, "relay listen %s", spec.Listen)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func drainTriggers(ctx context.Context, triggers <-chan hello.Trigger, logger *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-triggers:
			logger.Info("ClientHello rewrite requested",
				"trigger_id", t.ID.String(),
				"pid", t.PID,
				"ja3", t.Profile.JA3Hash(),
				"frame_len", t.FrameLen)
		}
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine wires the profile store, counters, lifecycle handler and
// ClientHello detector into one process-wide instance.
//
// Nothing is created at package load. Start builds fresh counters, a handler
// and a detector; Stop detaches them, and hooks created from the engine turn
// into pass-throughs until the next Start.
package engine

import (
	"context"
	"io"
	"net"
	"sync"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/hello"
	"grimm.is/stackveil/internal/hooks"
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/profile"
	"grimm.is/stackveil/internal/sockops"
	"grimm.is/stackveil/internal/stats"
)

// ErrNotStarted is returned by operations that need a running engine.
var ErrNotStarted = errors.New(errors.KindUnavailable, "engine not started")

// Options configure an Engine.
type Options struct {
	// Store holds the profiles. Defaults to an empty in-memory store.
	Store profile.Store
	// Sockops selects the handler policies.
	Sockops sockops.Config
	// Trigger receives ClientHello matches. Optional.
	Trigger hello.TriggerFunc
	// PID attributes hook events. Defaults to hooks.CurrentPID.
	PID hooks.PIDFunc
	Logger *logging.Logger
}

// Engine is the process-wide instance.
type Engine struct {
	mu       sync.RWMutex
	opts     Options
	running  bool
	stats    *stats.Collector
	handler  *sockops.Handler
	detector *hello.Detector

	triggers chan hello.Trigger
	logger   *logging.Logger
}

// New creates a stopped engine.
func New(opts Options) *Engine {
	if opts.Store == nil {
		opts.Store = profile.NewMemoryStore()
	}
	if opts.PID == nil {
		opts.PID = hooks.CurrentPID
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("engine")
	}
	return &Engine{opts: opts, logger: logger}
}

// ConfigOption adjusts the Options FromConfig derives from a config.
type ConfigOption func(*Options)

// WithPID attributes hook events to pid instead of this process. Zero keeps
// the default.
func WithPID(pid uint32) ConfigOption {
	return func(o *Options) {
		if pid != 0 {
			o.PID = hooks.FixedPID(pid)
		}
	}
}

// FromConfig builds a stopped engine for cfg. With a bpf block the store is
// backed by kernel maps, pinned when pin_dir is set; otherwise it lives in
// memory. A positive trigger_queue routes matches to Triggers.
func FromConfig(cfg *config.Config, logger *logging.Logger, options ...ConfigOption) (*Engine, error) {
	if logger == nil {
		logger = logging.WithComponent("engine")
	}

	opts := Options{Logger: logger}

	if cfg.Engine != nil {
		success, err := sockops.ParseSuccessPolicy(cfg.Engine.SuccessPolicy)
		if err != nil {
			return nil, err
		}
		passive, err := sockops.ParsePassivePolicy(cfg.Engine.PassivePolicy)
		if err != nil {
			return nil, err
		}
		opts.Sockops = sockops.Config{Success: success, Passive: passive}
	}

	store, err := openStore(cfg.BPF)
	if err != nil {
		return nil, err
	}
	opts.Store = store

	var triggers chan hello.Trigger
	if cfg.Engine != nil && cfg.Engine.TriggerQueue > 0 {
		triggers = make(chan hello.Trigger, cfg.Engine.TriggerQueue)
		opts.Trigger = hello.ChannelTrigger(triggers)
	}

	for _, o := range options {
		o(&opts)
	}

	e := New(opts)
	e.triggers = triggers
	return e, nil
}

func openStore(cfg *config.BPFConfig) (profile.Store, error) {
	if cfg == nil {
		return profile.NewMemoryStore(), nil
	}
	if cfg.PinDir != "" {
		s, err := profile.OpenPinned(cfg.PinDir)
		if err != nil {
			return nil, errors.Attr(err, "pin_dir", cfg.PinDir)
		}
		return s, nil
	}
	return profile.NewBPFStore()
}

// Start creates fresh counters and the packet and lifecycle handlers.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return errors.New(errors.KindValidation, "engine already running")
	}

	e.stats = stats.NewCollector()
	e.handler = sockops.NewHandler(e.opts.Store, e.stats, e.opts.Sockops, e.logger.WithComponent("sockops"))
	e.detector = hello.NewDetector(e.opts.Store, e.stats, hello.Config{Trigger: e.opts.Trigger}, e.logger.WithComponent("hello"))
	e.running = true

	e.logger.Info("Engine started",
		"success_policy", e.opts.Sockops.Success.String(),
		"passive_policy", e.opts.Sockops.Passive.String())
	return nil
}

// Stop detaches the handlers. Counters stay readable until the next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	e.handler = nil
	e.detector = nil
	e.logger.Info("Engine stopped")
}

// Close stops the engine and releases the store if it holds resources.
func (e *Engine) Close() error {
	e.Stop()
	if c, ok := e.opts.Store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Store returns the profile store. It is usable whether or not the engine
// is running.
func (e *Engine) Store() profile.Store {
	return e.opts.Store
}

// Triggers returns the match queue, or nil when none was configured.
func (e *Engine) Triggers() <-chan hello.Trigger {
	return e.triggers
}

// Stats returns the current counters, or nil before the first Start.
func (e *Engine) Stats() *stats.Collector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Snapshot reads the current counters. Before the first Start it returns a
// zero snapshot.
func (e *Engine) Snapshot() stats.Snapshot {
	st := e.Stats()
	if st == nil {
		return stats.Snapshot{}
	}
	return st.Snapshot()
}

// Handle dispatches a lifecycle event. Events arriving while stopped are
// dropped.
func (e *Engine) Handle(ev sockops.Event) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		h.Handle(ev)
	}
}

// Observe runs the socket-filter path for one frame.
func (e *Engine) Observe(pid uint32, frame []byte) hello.Verdict {
	if d := e.currentDetector(); d != nil {
		return d.Observe(pid, frame)
	}
	return hello.VerdictPass
}

// Egress runs the classifier path for one frame.
func (e *Engine) Egress(pid uint32, frame []byte) hello.Verdict {
	if d := e.currentDetector(); d != nil {
		return d.Egress(pid, frame)
	}
	return hello.VerdictPass
}

// Detector returns the running detector.
func (e *Engine) Detector() (*hello.Detector, error) {
	if d := e.currentDetector(); d != nil {
		return d, nil
	}
	return nil, ErrNotStarted
}

func (e *Engine) currentDetector() *hello.Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detector
}

// Dialer returns a dialer whose connections report to this engine.
func (e *Engine) Dialer() *hooks.Dialer {
	d := hooks.NewDialer(e)
	d.PID = e.opts.PID
	return d
}

// Listen opens a TCP listener whose accepted connections report to this
// engine.
func (e *Engine) Listen(ctx context.Context, network, address string) (*hooks.Listener, error) {
	if !e.Running() {
		return nil, ErrNotStarted
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return hooks.NewListener(ln, e, e.opts.PID), nil
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sockops

import (
	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/profile"
	"grimm.is/stackveil/internal/stats"
)

const httpsPort = 443

// Config selects the handler's policies.
type Config struct {
	Success SuccessPolicy
	Passive PassivePolicy
}

// Handler reacts to lifecycle events. It is safe for concurrent use and
// holds no per-connection state.
type Handler struct {
	profiles profile.Reader
	stats    *stats.Collector
	config   Config
	logger   *logging.Logger
}

// NewHandler creates a handler reading profiles from profiles and counting
// into st. A nil logger uses the package default.
func NewHandler(profiles profile.Reader, st *stats.Collector, cfg Config, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.WithComponent("sockops")
	}
	return &Handler{
		profiles: profiles,
		stats:    st,
		config:   cfg,
		logger:   logger,
	}
}

// Config returns the active policies.
func (h *Handler) Config() Config {
	return h.config
}

// Handle dispatches one event. Unknown ops and non-inet families are ignored.
func (h *Handler) Handle(ev Event) {
	if ev.Family != FamilyInet && ev.Family != FamilyInet6 {
		return
	}

	switch ev.Op {
	case OpConnect:
		h.connect(ev)
	case OpPassiveEstablished:
		h.passive(ev)
	case OpActiveEstablished:
		stats.Increment(&h.stats.TCP.PacketsProcessed)
	}
}

func (h *Handler) connect(ev Event) {
	if ev.RemotePort == httpsPort {
		if p, ok := h.profiles.LookupJA3(ev.PID); ok && p.Enabled {
			stats.Increment(&h.stats.TLS.PacketsPassed)
		}
	}

	p, ok := h.profiles.LookupTCP(ev.PID)
	if !ok {
		return
	}
	h.applyCounted(ev, p)
}

func (h *Handler) passive(ev Event) {
	p, ok := h.profiles.LookupTCP(ev.PID)
	if !ok {
		return
	}

	if h.config.Passive == PassiveFull {
		h.applyCounted(ev, p)
		return
	}

	if p.WindowSize > 0 {
		if err := ev.Socket.SetOption(OptWindowClamp, int(p.WindowSize)); err != nil {
			h.logFailure(ev, OptWindowClamp, err)
		}
	}
}

// applyCounted runs the full mutation pass and settles the counters.
func (h *Handler) applyCounted(ev Event, p profile.TCPProfile) {
	failed := h.apply(ev, p)
	if failed > 0 && h.config.Success == SuccessAllApplied {
		return
	}
	stats.Increment(&h.stats.TCP.ConnectionsModified)
}

// apply sets every non-sentinel field in a fixed order and returns the number
// of failed mutations. Each failure is counted; later mutations still run.
func (h *Handler) apply(ev Event, p profile.TCPProfile) int {
	failed := 0
	set := func(opt Option, value int) {
		if err := ev.Socket.SetOption(opt, value); err != nil {
			failed++
			stats.Increment(&h.stats.TCP.Errors)
			h.logFailure(ev, opt, err)
		}
	}

	if p.WindowSize > 0 {
		set(OptWindowClamp, int(p.WindowSize))
	}
	if p.TTL > 0 {
		if ev.Family == FamilyInet6 {
			set(OptHopLimit, int(p.TTL))
		} else {
			set(OptTTL, int(p.TTL))
		}
	}
	if p.MSS > 0 {
		set(OptMaxSeg, int(p.MSS))
	}
	if p.NoDelay {
		set(OptNoDelay, 1)
	}
	if p.ECN {
		if ev.Family == FamilyInet6 {
			set(OptTrafficClass, ECT0)
		} else {
			set(OptTOS, ECT0)
		}
	}
	return failed
}

func (h *Handler) logFailure(ev Event, opt Option, err error) {
	err = errors.Wrapf(err, errors.KindMutation, "set %s", opt)
	h.logger.Debug("socket option not applied",
		"option", opt.String(),
		"op", ev.Op.String(),
		"pid", ev.PID,
		"error", err)
}

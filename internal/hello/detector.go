// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package hello detects TLS ClientHello frames for processes that carry a JA3
// profile. Detection only counts and notifies; frames always pass.
package hello

import (
	"time"

	"github.com/google/uuid"

	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/packet"
	"grimm.is/stackveil/internal/profile"
	"grimm.is/stackveil/internal/stats"
)

// Verdict is what a packet hook tells its caller.
type Verdict uint8

const (
	// VerdictPass lets the frame continue unchanged.
	VerdictPass Verdict = iota
)

// Trigger describes a detected ClientHello handed to the rewriting
// collaborator.
type Trigger struct {
	ID       uuid.UUID
	PID      uint32
	Profile  profile.JA3Profile
	FrameLen int
	At       time.Time
}

// TriggerFunc receives detections. It runs on the packet path and must not
// block.
type TriggerFunc func(Trigger) error

// Config for a Detector.
type Config struct {
	// Trigger is optional. Without one, a match is counted as handed off.
	Trigger TriggerFunc
}

// Detector implements the observation and egress packet hooks.
type Detector struct {
	profiles profile.Reader
	stats    *stats.Collector
	trigger  TriggerFunc
	logger   *logging.Logger
}

// NewDetector creates a detector. A nil logger uses the package default.
func NewDetector(profiles profile.Reader, st *stats.Collector, cfg Config, logger *logging.Logger) *Detector {
	if logger == nil {
		logger = logging.WithComponent("hello")
	}
	return &Detector{
		profiles: profiles,
		stats:    st,
		trigger:  cfg.Trigger,
		logger:   logger,
	}
}

// Observe is the socket-filter path. A ClientHello from a process with an
// enabled profile bumps ClientHelloSeen, then fires the trigger. A delivered
// trigger bumps ClientHelloModified; a failed one bumps TLS Errors.
func (d *Detector) Observe(pid uint32, frame []byte) Verdict {
	p, ok := d.match(pid, frame)
	if !ok {
		return VerdictPass
	}

	if err := d.fire(pid, p, len(frame)); err != nil {
		stats.Increment(&d.stats.TLS.Errors)
		d.logger.Debug("client hello trigger failed", "pid", pid, "error", err)
		return VerdictPass
	}
	stats.Increment(&d.stats.TLS.ClientHelloModified)
	return VerdictPass
}

// Egress is the classifier path. It only counts ClientHelloSeen.
func (d *Detector) Egress(pid uint32, frame []byte) Verdict {
	d.match(pid, frame)
	return VerdictPass
}

func (d *Detector) match(pid uint32, frame []byte) (profile.JA3Profile, bool) {
	p, ok := d.profiles.LookupJA3(pid)
	if !ok || !p.Enabled {
		return p, false
	}
	if !packet.Parse(frame, &p).Match {
		return p, false
	}
	stats.Increment(&d.stats.TLS.ClientHelloSeen)
	return p, true
}

func (d *Detector) fire(pid uint32, p profile.JA3Profile, frameLen int) error {
	if d.trigger == nil {
		return nil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "trigger id")
	}
	return d.trigger(Trigger{
		ID:       id,
		PID:      pid,
		Profile:  p,
		FrameLen: frameLen,
		At:       time.Now(),
	})
}

// ChannelTrigger delivers triggers to ch without blocking. A full channel is
// reported as a capacity error.
func ChannelTrigger(ch chan<- Trigger) TriggerFunc {
	return func(t Trigger) error {
		select {
		case ch <- t:
			return nil
		default:
			return errors.Attr(errors.New(errors.KindCapacity, "trigger queue full"), "trigger_id", t.ID.String())
		}
	}
}

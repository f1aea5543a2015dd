// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sockops applies TCP profiles to sockets at connection lifecycle
// events.
//
// Three events are understood: an outbound connect (before the SYN leaves),
// a passive accept, and full establishment of an outbound connection. Every
// mutation is best-effort. A failed option is counted and logged, never
// returned to the connection.
package sockops

import (
	"fmt"
	"strings"
	"syscall"

	"grimm.is/stackveil/internal/errors"
)

// Op identifies a connection lifecycle event.
type Op uint8

const (
	OpConnect Op = iota + 1
	OpPassiveEstablished
	OpActiveEstablished
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpPassiveEstablished:
		return "passive_established"
	case OpActiveEstablished:
		return "active_established"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Address families the handler acts on. Anything else is ignored.
const (
	FamilyInet  = syscall.AF_INET
	FamilyInet6 = syscall.AF_INET6
)

// Option is a socket option the handler may set, independent of the
// platform's level/name numbering.
type Option uint8

const (
	OptWindowClamp Option = iota + 1
	OptTTL
	OptHopLimit
	OptMaxSeg
	OptNoDelay
	OptTOS
	OptTrafficClass
)

func (o Option) String() string {
	switch o {
	case OptWindowClamp:
		return "TCP_WINDOW_CLAMP"
	case OptTTL:
		return "IP_TTL"
	case OptHopLimit:
		return "IPV6_UNICAST_HOPS"
	case OptMaxSeg:
		return "TCP_MAXSEG"
	case OptNoDelay:
		return "TCP_NODELAY"
	case OptTOS:
		return "IP_TOS"
	case OptTrafficClass:
		return "IPV6_TCLASS"
	default:
		return fmt.Sprintf("option(%d)", uint8(o))
	}
}

// ECT0 is the ECN-capable transport codepoint written to the low bits of the
// TOS / traffic class byte when a profile asks for ECN.
const ECT0 = 0x02

// SocketOptioner sets integer socket options on one socket.
type SocketOptioner interface {
	SetOption(opt Option, value int) error
}

// Event is one lifecycle notification.
type Event struct {
	Op         Op
	PID        uint32
	Family     int
	RemotePort uint16
	Socket     SocketOptioner
}

// SuccessPolicy decides when an outbound connect counts as modified.
type SuccessPolicy uint8

const (
	// SuccessEndOfSequence counts every connect that reached the end of the
	// mutation pass, whatever the individual results.
	SuccessEndOfSequence SuccessPolicy = iota
	// SuccessAllApplied counts a connect only if no attempted mutation failed.
	SuccessAllApplied
)

func (p SuccessPolicy) String() string {
	switch p {
	case SuccessEndOfSequence:
		return "end_of_sequence"
	case SuccessAllApplied:
		return "all_applied"
	default:
		return fmt.Sprintf("success_policy(%d)", uint8(p))
	}
}

// ParseSuccessPolicy accepts the String forms. Empty selects the default.
func ParseSuccessPolicy(s string) (SuccessPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "end_of_sequence":
		return SuccessEndOfSequence, nil
	case "all_applied":
		return SuccessAllApplied, nil
	}
	return 0, errors.Errorf(errors.KindValidation, "unknown success policy %q", s)
}

// PassivePolicy decides how much of a profile applies to accepted sockets.
type PassivePolicy uint8

const (
	// PassiveWindowClampOnly sets the window clamp and touches no counters.
	PassiveWindowClampOnly PassivePolicy = iota
	// PassiveFull applies the whole outbound field set with the same stats.
	PassiveFull
)

func (p PassivePolicy) String() string {
	switch p {
	case PassiveWindowClampOnly:
		return "window_clamp_only"
	case PassiveFull:
		return "full"
	default:
		return fmt.Sprintf("passive_policy(%d)", uint8(p))
	}
}

// ParsePassivePolicy accepts the String forms. Empty selects the default.
func ParsePassivePolicy(s string) (PassivePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "window_clamp_only":
		return PassiveWindowClampOnly, nil
	case "full":
		return PassiveFull, nil
	}
	return 0, errors.Errorf(errors.KindValidation, "unknown passive policy %q", s)
}

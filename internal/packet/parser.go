// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packet recognises TLS ClientHello records in raw Ethernet frames.
//
// The walk is a single linear pass with no loops and no allocation. Every
// header is checked to fit inside the frame before any of its bytes are read;
// a failed check ends the walk with a reject. Only IPv4 is understood.
package packet

import (
	"encoding/binary"

	"grimm.is/stackveil/internal/profile"
)

// Wire constants.
const (
	EthernetHeaderLen  = 14
	IPv4MinHeaderLen   = 20
	TCPMinHeaderLen    = 20
	TLSRecordHeaderLen = 5
	HandshakeHeaderLen = 4

	EtherTypeIPv4 = 0x0800
	ProtocolTCP   = 6
	HTTPSPort     = 443

	ContentTypeHandshake       = 0x16
	ContentTypeApplicationData = 0x17
	HandshakeTypeClientHello   = 0x01
)

// State is the furthest step of the walk that succeeded.
type State uint8

const (
	StateStart State = iota
	StateEthOK
	StateIPOK
	StateTCPOK
	StatePortOK
	StateRecordOK
	StateHandshakeOK
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateEthOK:
		return "eth_ok"
	case StateIPOK:
		return "ip_ok"
	case StateTCPOK:
		return "tcp_ok"
	case StatePortOK:
		return "port_ok"
	case StateRecordOK:
		return "record_ok"
	case StateHandshakeOK:
		return "handshake_ok"
	default:
		return "unknown"
	}
}

// Result of a parse. A rejected frame reports the last state reached, which
// is only useful for diagnostics.
type Result struct {
	Match bool
	State State
}

// Rejected reports whether the walk stopped before a ClientHello.
func (r Result) Rejected() bool {
	return !r.Match
}

func reject(s State) Result {
	return Result{State: s}
}

// Parse walks frame looking for Ethernet / IPv4 / TCP to port 443 / TLS
// handshake record / ClientHello. The profile argument mirrors the hook
// contract and is not consulted; callers gate on profile presence first.
func Parse(frame []byte, _ *profile.JA3Profile) Result {
	end := len(frame)

	// Ethernet.
	if EthernetHeaderLen > end {
		return reject(StateStart)
	}
	if binary.BigEndian.Uint16(frame[12:14]) != EtherTypeIPv4 {
		return reject(StateStart)
	}
	ip := EthernetHeaderLen

	// IPv4 fixed header.
	if ip+IPv4MinHeaderLen > end {
		return reject(StateEthOK)
	}
	if frame[ip+9] != ProtocolTCP {
		return reject(StateEthOK)
	}
	ihl := int(frame[ip]&0x0f) * 4
	if ihl < IPv4MinHeaderLen {
		return reject(StateEthOK)
	}
	tcp := ip + ihl

	// TCP fixed header, located by IHL.
	if tcp+TCPMinHeaderLen > end {
		return reject(StateIPOK)
	}
	if binary.BigEndian.Uint16(frame[tcp+2:tcp+4]) != HTTPSPort {
		return reject(StateTCPOK)
	}
	doff := int(frame[tcp+12]>>4) * 4
	if doff < TCPMinHeaderLen {
		return reject(StateTCPOK)
	}
	rec := tcp + doff

	// TLS record header, located by the data offset.
	if rec+TLSRecordHeaderLen > end {
		return reject(StatePortOK)
	}
	if frame[rec] != ContentTypeHandshake {
		return reject(StatePortOK)
	}
	hs := rec + TLSRecordHeaderLen

	// Handshake header.
	if hs+HandshakeHeaderLen > end {
		return reject(StateRecordOK)
	}
	if frame[hs] != HandshakeTypeClientHello {
		return reject(StateRecordOK)
	}

	return Result{Match: true, State: StateHandshakeOK}
}

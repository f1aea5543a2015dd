// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package hooks raises connection lifecycle events from userspace sockets.
//
// Dialer fires a connect event from the dial's control hook, before the SYN
// is sent, and an established event once the dial returns. Listener fires a
// passive event for each accepted TCP connection.
package hooks

import (
	"context"
	"net"
	"net/netip"
	"os"
	"syscall"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"grimm.is/stackveil/internal/sockops"
)

// EventHandler consumes lifecycle events. *sockops.Handler satisfies it.
type EventHandler interface {
	Handle(ev sockops.Event)
}

// PIDFunc returns the process identifier events are attributed to.
type PIDFunc func() uint32

// CurrentPID attributes events to this process.
func CurrentPID() uint32 {
	return uint32(os.Getpid())
}

// FixedPID attributes every event to pid.
func FixedPID(pid uint32) PIDFunc {
	return func() uint32 { return pid }
}

// Dialer is a transport.StreamDialer that applies profiles to every TCP
// connection it makes.
type Dialer struct {
	// Dialer is the base dialer. Its Control and ControlContext hooks still
	// run, before the profile is applied.
	Dialer net.Dialer
	// PID defaults to CurrentPID.
	PID PIDFunc

	handler EventHandler
}

var _ transport.StreamDialer = (*Dialer)(nil)

// NewDialer creates a dialer that reports to h.
func NewDialer(h EventHandler) *Dialer {
	return &Dialer{handler: h, PID: CurrentPID}
}

// DialStream connects to raddr ("host:port") over TCP.
func (d *Dialer) DialStream(ctx context.Context, raddr string) (transport.StreamConn, error) {
	pid := d.pid()

	nd := d.Dialer
	baseControl, baseControlContext := nd.Control, nd.ControlContext
	nd.Control = nil
	nd.ControlContext = func(ctx context.Context, network, address string, c syscall.RawConn) error {
		if baseControlContext != nil {
			if err := baseControlContext(ctx, network, address, c); err != nil {
				return err
			}
		} else if baseControl != nil {
			if err := baseControl(network, address, c); err != nil {
				return err
			}
		}
		family, port := endpoint(network, address)
		d.handler.Handle(sockops.Event{
			Op:         sockops.OpConnect,
			PID:        pid,
			Family:     family,
			RemotePort: port,
			Socket:     sockops.NewRawSocket(c),
		})
		return nil
	}

	conn, err := nd.DialContext(ctx, "tcp", raddr)
	if err != nil {
		return nil, err
	}
	tc := conn.(*net.TCPConn)

	family, port := addrEndpoint(tc.RemoteAddr())
	d.handler.Handle(sockops.Event{
		Op:         sockops.OpActiveEstablished,
		PID:        pid,
		Family:     family,
		RemotePort: port,
	})
	return tc, nil
}

func (d *Dialer) pid() uint32 {
	if d.PID == nil {
		return CurrentPID()
	}
	return d.PID()
}

// Listener wraps a net.Listener and raises a passive event for every
// accepted TCP connection. Other connection types pass through untouched.
type Listener struct {
	net.Listener

	pid     PIDFunc
	handler EventHandler
}

// NewListener wraps ln. A nil pid defaults to CurrentPID.
func NewListener(ln net.Listener, h EventHandler, pid PIDFunc) *Listener {
	if pid == nil {
		pid = CurrentPID
	}
	return &Listener{Listener: ln, pid: pid, handler: h}
}

// Accept waits for the next connection and applies the passive profile.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return conn, nil
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return conn, nil
	}

	family, port := addrEndpoint(tc.RemoteAddr())
	l.handler.Handle(sockops.Event{
		Op:         sockops.OpPassiveEstablished,
		PID:        l.pid(),
		Family:     family,
		RemotePort: port,
		Socket:     sockops.NewRawSocket(raw),
	})
	return conn, nil
}

// endpoint derives the socket family and remote port from the arguments a
// dial control hook receives.
func endpoint(network, address string) (int, uint16) {
	switch network {
	case "tcp4":
		_, port := parseAddrPort(address)
		return sockops.FamilyInet, port
	case "tcp6":
		_, port := parseAddrPort(address)
		return sockops.FamilyInet6, port
	}
	ap, port := parseAddrPort(address)
	return familyOf(ap.Addr()), port
}

func addrEndpoint(a net.Addr) (int, uint16) {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return 0, 0
	}
	ap := tcp.AddrPort()
	return familyOf(ap.Addr()), ap.Port()
}

func parseAddrPort(address string) (netip.AddrPort, uint16) {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return netip.AddrPort{}, 0
	}
	return ap, ap.Port()
}

// familyOf treats IPv4-mapped addresses as IPv4, which is how Linux applies
// IP_TTL on a dual-stack socket.
func familyOf(a netip.Addr) int {
	switch {
	case !a.IsValid():
		return 0
	case a.Is4(), a.Is4In6():
		return sockops.FamilyInet
	default:
		return sockops.FamilyInet6
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sockops

import "syscall"

// FD sets options directly on a socket file descriptor.
type FD int

// RawSocket sets options through a syscall.RawConn, so the descriptor is
// only touched while the runtime holds it.
type RawSocket struct {
	conn syscall.RawConn
}

// NewRawSocket wraps c.
func NewRawSocket(c syscall.RawConn) RawSocket {
	return RawSocket{conn: c}
}

func (s RawSocket) SetOption(opt Option, value int) error {
	var setErr error
	err := s.conn.Control(func(fd uintptr) {
		setErr = FD(fd).SetOption(opt, value)
	})
	if err != nil {
		return err
	}
	return setErr
}

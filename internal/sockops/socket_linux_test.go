// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package sockops

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/stackveil/internal/errors"
)

func newTCPSocket(t *testing.T, family int) FD {
	t.Helper()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		t.Skipf("cannot create socket: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	return FD(fd)
}

func TestFD_SetOptionRoundTrip(t *testing.T) {
	fd := newTCPSocket(t, unix.AF_INET)

	require.NoError(t, fd.SetOption(OptTTL, 77))
	v, err := fd.GetOption(OptTTL)
	require.NoError(t, err)
	assert.Equal(t, 77, v)

	require.NoError(t, fd.SetOption(OptNoDelay, 1))
	v, err = fd.GetOption(OptNoDelay)
	require.NoError(t, err)
	assert.NotZero(t, v)

	// DSCP bits survive on stream sockets.
	require.NoError(t, fd.SetOption(OptTOS, 0x10))
	v, err = fd.GetOption(OptTOS)
	require.NoError(t, err)
	assert.Equal(t, 0x10, v&^0x03)
}

func TestFD_ECNIsVerified(t *testing.T) {
	tests := []struct {
		name   string
		family int
		opt    Option
	}{
		{"ipv4 tos", unix.AF_INET, OptTOS},
		{"ipv6 traffic class", unix.AF_INET6, OptTrafficClass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := newTCPSocket(t, tt.family)

			err := fd.SetOption(tt.opt, ECT0)
			v, getErr := fd.GetOption(tt.opt)
			require.NoError(t, getErr)

			// Either the kernel kept ECT(0) or the set reports a mutation failure.
			if v&0x03 == ECT0 {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsKind(err, errors.KindMutation), "got %v", err)
		})
	}
}

func TestFD_HopLimit(t *testing.T) {
	fd := newTCPSocket(t, unix.AF_INET6)

	require.NoError(t, fd.SetOption(OptHopLimit, 42))
	v, err := fd.GetOption(OptHopLimit)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFD_InvalidValue(t *testing.T) {
	fd := newTCPSocket(t, unix.AF_INET)

	// TTL must be 1..255.
	err := fd.SetOption(OptTTL, 1000)
	assert.Error(t, err)

	_, err = fd.GetOption(Option(99))
	assert.Error(t, err)
}

func TestRawSocket(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("tcp4", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	raw, err := conn.(*net.TCPConn).SyscallConn()
	require.NoError(t, err)

	sock := NewRawSocket(raw)
	require.NoError(t, sock.SetOption(OptTTL, 33))

	var got int
	require.NoError(t, raw.Control(func(fd uintptr) {
		got, err = FD(fd).GetOption(OptTTL)
	}))
	require.NoError(t, err)
	assert.Equal(t, 33, got)
}

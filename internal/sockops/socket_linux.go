// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package sockops

import (
	"golang.org/x/sys/unix"

	"grimm.is/stackveil/internal/errors"
)

// optionKey maps an Option to its Linux level and name.
func optionKey(opt Option) (level, name int, ok bool) {
	switch opt {
	case OptWindowClamp:
		return unix.IPPROTO_TCP, unix.TCP_WINDOW_CLAMP, true
	case OptTTL:
		return unix.IPPROTO_IP, unix.IP_TTL, true
	case OptHopLimit:
		return unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, true
	case OptMaxSeg:
		return unix.IPPROTO_TCP, unix.TCP_MAXSEG, true
	case OptNoDelay:
		return unix.IPPROTO_TCP, unix.TCP_NODELAY, true
	case OptTOS:
		return unix.IPPROTO_IP, unix.IP_TOS, true
	case OptTrafficClass:
		return unix.IPPROTO_IPV6, unix.IPV6_TCLASS, true
	}
	return 0, 0, false
}

// ecnMask is the part of the TOS / traffic class byte holding the ECN field.
// Linux clears it on stream sockets without reporting an error.
const ecnMask = 0x03

// verifyMask returns the bits of opt that must be read back after a set.
func verifyMask(opt Option) int {
	switch opt {
	case OptTOS, OptTrafficClass:
		return ecnMask
	}
	return 0
}

func (fd FD) SetOption(opt Option, value int) error {
	level, name, ok := optionKey(opt)
	if !ok {
		return errors.Errorf(errors.KindValidation, "unknown socket option %s", opt)
	}
	if err := unix.SetsockoptInt(int(fd), level, name, value); err != nil {
		return errors.Wrapf(err, errors.KindMutation, "setsockopt %s=%d", opt, value)
	}
	if mask := verifyMask(opt); mask != 0 && value&mask != 0 {
		got, err := unix.GetsockoptInt(int(fd), level, name)
		if err != nil {
			return errors.Wrapf(err, errors.KindMutation, "verify %s", opt)
		}
		if got&mask != value&mask {
			return errors.Errorf(errors.KindMutation, "%s=%#x not applied, kernel kept %#x", opt, value, got)
		}
	}
	return nil
}

// GetOption reads an option back. Used to verify applied profiles.
func (fd FD) GetOption(opt Option) (int, error) {
	level, name, ok := optionKey(opt)
	if !ok {
		return 0, errors.Errorf(errors.KindValidation, "unknown socket option %s", opt)
	}
	v, err := unix.GetsockoptInt(int(fd), level, name)
	if err != nil {
		return 0, errors.Wrapf(err, errors.KindInternal, "getsockopt %s", opt)
	}
	return v, nil
}

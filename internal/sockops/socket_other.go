// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package sockops

import "grimm.is/stackveil/internal/errors"

func (fd FD) SetOption(opt Option, value int) error {
	return errors.Errorf(errors.KindUnavailable, "%s not supported on this platform", opt)
}

func (fd FD) GetOption(opt Option) (int, error) {
	return 0, errors.Errorf(errors.KindUnavailable, "%s not supported on this platform", opt)
}

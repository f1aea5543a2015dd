// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"fmt"
	"io"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/errors"
)

// RunJA3 prints the JA3 string and hash of configured profiles. A non-zero
// pid limits output to that process.
func RunJA3(w io.Writer, cfg *config.Config, pid uint32) error {
	found := false
	for _, p := range cfg.JA3Profiles {
		if pid != 0 && p.PID != pid {
			continue
		}
		rec, err := p.Profile()
		if err != nil {
			return errors.Attr(errors.Wrap(err, errors.KindValidation, "invalid ja3 profile"), "profile", p.Name)
		}
		found = true

		state := ""
		if !rec.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(w, "%s pid=%d%s\n", p.Name, p.PID, state)
		fmt.Fprintf(w, "  ja3      %s\n", rec.JA3String())
		fmt.Fprintf(w, "  ja3_hash %s\n", rec.JA3Hash())
	}

	if !found {
		if pid != 0 {
			return errors.Errorf(errors.KindNotFound, "no ja3 profile for pid %d", pid)
		}
		return errors.New(errors.KindNotFound, "no ja3 profiles configured")
	}
	return nil
}

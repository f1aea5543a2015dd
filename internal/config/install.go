// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/profile"
)

// Install writes every profile in cfg to w. All profiles are attempted;
// failures are joined into the returned error.
func Install(cfg *Config, w profile.Writer) error {
	var errs []error

	for _, p := range cfg.TCPProfiles {
		if err := w.InstallTCP(p.PID, p.Profile()); err != nil {
			errs = append(errs, errors.Attr(err, "profile", p.Name))
		}
	}

	for _, p := range cfg.JA3Profiles {
		rec, err := p.Profile()
		if err == nil {
			err = w.InstallJA3(p.PID, rec)
		}
		if err != nil {
			errs = append(errs, errors.Attr(err, "profile", p.Name))
		}
	}

	return errors.Join(errs...)
}

// Encode renders cfg as formatted HCL.
func Encode(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(cfg, f.Body())
	return hclwrite.Format(f.Bytes())
}

// Format normalises HCL source layout.
func Format(src []byte) []byte {
	return hclwrite.Format(src)
}

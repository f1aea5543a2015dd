// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"fmt"
	"io"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/engine"
	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/profile"
)

// ValidateOptions control RunValidate output.
type ValidateOptions struct {
	// Print writes the normalised configuration as HCL after validating.
	Print bool
	// Verbose prints each profile's JA3 fingerprint and the stage summary.
	Verbose bool
}

// RunValidate loads, validates and dry-runs a configuration against an
// in-memory store.
func RunValidate(ctx context.Context, w io.Writer, configPath string, options ValidateOptions) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		fmt.Fprintf(w, "❌ %v\n", err)
		return err
	}

	if errs := cfg.Validate(); errs.HasErrors() {
		fmt.Fprintf(w, "❌ Configuration validation failed with %d errors:\n", len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  - %s\n", e.Error())
		}
		return errors.New(errors.KindValidation, "validation failed")
	}

	res, err := engine.NewConfigPipeline(profile.NewMemoryStore()).Execute(ctx, cfg)
	if options.Verbose && res != nil {
		res.PrintSummary(w)
	}
	if err != nil {
		fmt.Fprintf(w, "❌ %v\n", err)
		return err
	}
	if res.TotalWarnings > 0 {
		fmt.Fprintf(w, "\n⚠️  Configuration has %d warnings\n", res.TotalWarnings)
	}

	fmt.Fprintf(w, "✅ Configuration valid: %d tcp profiles, %d ja3 profiles\n", len(cfg.TCPProfiles), len(cfg.JA3Profiles))

	if options.Verbose {
		for _, p := range cfg.JA3Profiles {
			rec, _ := p.Profile()
			fmt.Fprintf(w, "  %s (pid %d): %s\n", p.Name, p.PID, rec.JA3Hash())
		}
	}

	if options.Print {
		fmt.Fprintf(w, "\n%s", config.Encode(cfg))
	}
	return nil
}

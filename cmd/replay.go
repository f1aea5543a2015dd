// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/engine"
	"grimm.is/stackveil/internal/errors"
	"grimm.is/stackveil/internal/logging"
	"grimm.is/stackveil/internal/replay"
)

// ReplayOptions control RunReplay.
type ReplayOptions struct {
	PID  uint32
	JSON bool
}

// RunReplay installs cfg into a fresh in-memory engine and replays each
// capture through it, attributing every frame to options.PID.
func RunReplay(ctx context.Context, w io.Writer, cfg *config.Config, paths []string, options ReplayOptions, logger *logging.Logger) error {
	if options.PID == 0 {
		return errors.New(errors.KindValidation, "--pid is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	eng := engine.New(engine.Options{Logger: logger.WithComponent("engine")})
	if _, err := eng.Apply(ctx, cfg); err != nil {
		return err
	}
	if err := eng.Start(); err != nil {
		return err
	}
	defer eng.Stop()

	r := replay.New(eng.Store(), eng, logger.WithComponent("replay"))

	mismatched := 0
	for _, path := range paths {
		report, err := r.File(ctx, path, options.PID)
		if err != nil {
			return errors.Attr(err, "capture", path)
		}
		mismatched += report.Mismatches
		if err := printReport(w, path, report, options.JSON); err != nil {
			return err
		}
	}

	if mismatched > 0 {
		return errors.Errorf(errors.KindValidation, "%d client hellos do not match the configured ja3 profile", mismatched)
	}
	return nil
}

func printReport(w io.Writer, path string, report *replay.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Capture string `json:"capture"`
			*replay.Report
		}{path, report})
	}

	status := "✅"
	if report.Mismatches > 0 {
		status = "❌"
	}
	fmt.Fprintf(w, "%s %s: %d frames, %d client hellos, %d mismatches\n",
		status, path, report.Frames, report.ClientHellos, report.Mismatches)
	fmt.Fprintf(w, "  expected %s\n", report.Expected)
	if report.Disabled {
		fmt.Fprintf(w, "  profile disabled, hellos not checked\n")
	}

	digests := make([]string, 0, len(report.Digests))
	for d := range report.Digests {
		digests = append(digests, d)
	}
	sort.Strings(digests)
	for _, d := range digests {
		fmt.Fprintf(w, "  observed %s x%d\n", d, report.Digests[d])
	}
	if report.Unparsed > 0 {
		fmt.Fprintf(w, "  unparsed x%d\n", report.Unparsed)
	}
	return nil
}

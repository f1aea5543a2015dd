// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"grimm.is/stackveil/cmd"
	"grimm.is/stackveil/internal/config"
	"grimm.is/stackveil/internal/logging"
)

var (
	Version = "dev"
	Commit  = "none"
)

var flags config.Flags

var rootCmd = &cobra.Command{
	Use:           "stackveil",
	Short:         "TCP/IP and TLS fingerprint shaping",
	Long:          `stackveil applies per-process TCP stack profiles to new connections and watches outgoing TLS ClientHellos against per-process JA3 profiles.`,
	Version:       fmt.Sprintf("%s (%s)", Version, Commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags.BindFlags(rootCmd)
	rootCmd.AddCommand(runCmd(), replayCmd(), validateCmd(), ja3Cmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// load reads the config file and applies flag overrides.
func load() (*config.Config, error) {
	cfg, err := config.LoadFile(flags.ConfigPath)
	if err != nil {
		return nil, err
	}
	flags.Apply(cfg)
	return cfg, nil
}

// setup loads the config and initialises logging. The returned closer must be
// closed on exit.
func setup() (*config.Config, *logging.Logger, io.Closer, error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, closer, err := cmd.SetupLogging(cfg, os.Stderr)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

func runCmd() *cobra.Command {
	var relays []string

	c := &cobra.Command{
		Use:   "run",
		Short: "Install profiles and apply them until interrupted",
		RunE: func(c *cobra.Command, args []string) error {
			var specs []cmd.RelaySpec
			for _, r := range relays {
				spec, err := cmd.ParseRelay(r)
				if err != nil {
					return err
				}
				specs = append(specs, spec)
			}

			cfg, logger, closer, err := setup()
			if err != nil {
				return err
			}
			defer closer.Close()

			if errs := cfg.Validate(); errs.HasErrors() {
				return errs
			}

			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return cmd.RunServe(ctx, cfg, cmd.RunOptions{Relays: specs, PID: flags.PID}, logger)
		},
	}
	c.Flags().StringArrayVar(&relays, "relay", nil, "Relay listen=target through profiled sockets (repeatable)")
	return c
}

func replayCmd() *cobra.Command {
	var asJSON bool

	c := &cobra.Command{
		Use:   "replay <capture.pcap>...",
		Short: "Run captured ClientHellos through the detector and compare JA3",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup()
			if err != nil {
				return err
			}
			defer closer.Close()

			opts := cmd.ReplayOptions{PID: flags.PID, JSON: asJSON}
			return cmd.RunReplay(c.Context(), c.OutOrStdout(), cfg, args, opts, logger)
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "Print reports as JSON")
	return c
}

func validateCmd() *cobra.Command {
	var opts cmd.ValidateOptions

	c := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(c *cobra.Command, args []string) error {
			return cmd.RunValidate(c.Context(), c.OutOrStdout(), flags.ConfigPath, opts)
		},
	}
	c.Flags().BoolVar(&opts.Print, "print", false, "Print the normalised configuration as HCL")
	c.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Show pipeline stages and JA3 hashes")
	return c
}

func ja3Cmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ja3",
		Short: "Print JA3 strings and hashes of configured profiles",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return cmd.RunJA3(c.OutOrStdout(), cfg, flags.PID)
		},
	}
}

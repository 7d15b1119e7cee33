// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command blackbox runs the incident capture daemon and inspects the bundles
// it writes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/blackbox/internal/config"
	"github.com/ManuGH/blackbox/internal/log"
	"github.com/ManuGH/blackbox/internal/version"
)

var (
	cfgFile  string
	dataDir  string
	logLevel string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blackbox",
		Short: "Capture incident bundles from a running process",
		Long: `blackbox keeps a rolling runtime recording, watches heartbeat scopes for
stalls and writes a self-contained incident bundle (report, recording and
environment snapshot) whenever a trigger fires.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.Configure(log.Config{
				Level:   logLevel,
				Output:  cmd.ErrOrStderr(),
				Service: "blackbox",
				Version: version.Version,
			})
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: <data-dir>/"+config.FileName+")")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "",
		"data directory (default: $"+config.EnvPrefix+"DATA_DIR or "+config.DefaultDataDir+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(),
		newDumpCmd(),
		newStatusCmd(),
		newListCmd(),
		newShowCmd(),
		newPruneCmd(),
		newConfigCmd(),
	)
	return root
}

// loadConfig resolves the effective configuration for the global flags.
func loadConfig() (config.AppConfig, *config.Loader, error) {
	loader := config.NewLoader(cfgFile, dataDir, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		return cfg, loader, err
	}
	return cfg, loader, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

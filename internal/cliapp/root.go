// Package cliapp implements the CrossBridge command-line surface (C8,
// spec §4.8): exec run/plan, sidecar start/test-connection, analyze
// logs/directory, rules list/test/validate. Grounded on
// daydemir-ralph/internal/cli's root-command-plus-persistent-flags shape
// (rootCmd var, Execute() entrypoint, PersistentFlags for global config),
// generalized from ralph's single-JSON-config "--config" flag to
// viper-backed layered loading (defaults -> YAML -> env) via
// internal/config.Load; no flags are bound into rootViper.
package cliapp

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/crossbridge-dev/crossbridge/internal/config"
	"github.com/crossbridge-dev/crossbridge/internal/logger"
)

// Version is set by the build via ldflags, mirroring ralph's pattern.
var Version = "dev"

var (
	cfgFile  string
	jsonOut  bool
	rootViper = viper.New()
	rootLog  logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "crossbridge",
	Short: "Execution orchestration and sidecar runtime for test automation",
	Long: `CrossBridge selects, runs, and classifies test failures across 13
automation frameworks behind one CLI and one sidecar protocol.

Core commands:
  exec plan              Show which tests a strategy would select, without running them
  exec run                Select tests, run them, classify failures
  sidecar start            Launch the event-observer HTTP sidecar
  sidecar test-connection  Probe a running sidecar's /health endpoint
  analyze logs             Classify a single failure signature read from a file
  analyze directory         Classify every .log/.txt signature file in a directory
  rules list|test|validate  Inspect and validate the classifier rule set`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, rootViper)
		if err != nil {
			return err
		}
		rootLog = logger.New(cfg.Logging.Level, cfg.Logging.Debug)
		cmd.SetContext(withConfig(cmd.Context(), cfg))
		return nil
	},
}

// Execute runs the root command, mirroring ralph's cli.Execute() shape.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "crossbridge.yml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON instead of human-readable text")
	rootCmd.SetVersionTemplate(fmt.Sprintf("crossbridge version %s\n", Version))

	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(sidecarCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(rulesCmd)
}

func exitError(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
}

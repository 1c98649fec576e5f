package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/rahul/priorities/internal/observability"
	"github.com/rahul/priorities/pkg/config"
)

var (
	cfgFile string
	noColor bool
	asJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "priorities",
	Short: "Prioritize a task pool against an outcome",
	Long: `priorities ranks a user's candidate tasks against their active outcome.

Commands:
  seed     Load a YAML fixture of outcome, reflections and tasks
  run      Run one prioritization session
  session  Print a stored session`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "Config file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable coloured output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")
}

// loadConfig falls back to defaults only when the default config file is absent.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_, err := os.Stat(cfgFile)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		log.Printf("Warning: %s not found, using default configuration", cfgFile)
		return config.Default(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func useColor() bool {
	return !noColor && !asJSON && observability.IsTerminal(os.Stdout)
}

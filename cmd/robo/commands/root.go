package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "robo",
		Short: "robocore - OpMode runtime for competition robots",
		Long: `robo runs driver-controlled and autonomous OpModes against a robot
described in a CUE or YAML configuration.

Features:
  - Iterative and linear OpModes with a safe stop on every exit
  - Timed, encoder-threshold and run-to-position motion
  - Starlark-scripted autonomous routines
  - Rego safety policies checked before any motor moves
  - Simulated devices or a serial motor hub
  - Run journal in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "robot.cue", "robot config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newOpModesCommand())
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string // Log verbosity level, shared by every subcommand

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "loco-sim",
	Short: "Vectorized training pipeline for simulated legged-robot control policies",
}

// setupLogging applies the --log flag. Every subcommand calls it first.
func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// logFlag registers the shared --log flag on a subcommand.
func logFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

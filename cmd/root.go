// Package cmd implements the seatrial command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "seatrial",
	Short: "Release-validation harness for marine-data servers",
	Long: `seatrial boots a disposable instance of a Signal K style marine-data
server, drives it with protocol-correct synthetic NMEA 0183 and PGN traffic,
classifies its runtime logs phase by phase and reports whether the release
is fit to ship.`,
	// Errors are handled and printed by main; usage spam on failures only
	// buries the verdict.
	SilenceUsage: true,
}

// SetVersion injects the build version, typically from main via ldflags.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the CLI.
func Execute() error {
	rootCmd.AddCommand(newRunCmd(), newReportCmd(), newVersionCmd())
	return rootCmd.Execute()
}

// Package cli implements the vigil command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/vigil-agent/vigil/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"        _       _ _\n" +
		" __   _(_) __ _(_) |\n" +
		" \\ \\ / / |/ _` | | |\n" +
		"  \\ V /| | (_| | | |\n" +
		"   \\_/ |_|\\__, |_|_|\n" +
		"          |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "vigil - autonomous repository monitor",
	Long:  color.CyanString(logo) + "\nA long-running controller that watches a repository, reasons about what it sees, and delegates work.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}
